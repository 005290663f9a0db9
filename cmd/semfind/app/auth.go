package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semfind/semfind/internal/auth"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize against the code host",
	Long: `Start a device-flow authorization. The command prints a user code and a
verification URL; open the URL, enter the code, and the credential is stored
once the host confirms. Interrupt with Ctrl-C to cancel.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctrl, err := newController(cmd.Context())
		if err != nil {
			return err
		}
		defer ctrl.Stop()

		if err := ctrl.Logout(); err != nil {
			return fmt.Errorf("failed to remove credential: %w", err)
		}
		fmt.Println("Logged out")
		return nil
	},
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	if ok, err := ctrl.Authorized(); err == nil && ok {
		fmt.Println("Already authorized")
		return nil
	}

	session, err := ctrl.Login(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Open %s and enter code: %s\n", session.VerificationURI, session.UserCode)
	fmt.Println("Waiting for authorization...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		ctrl.CancelLogin()
		// Wait for the poll loop to confirm it stopped
		<-session.Done
		return fmt.Errorf("authorization cancelled")
	case err := <-session.Done:
		if err != nil {
			if errors.Is(err, auth.ErrCancelled) {
				return fmt.Errorf("authorization cancelled")
			}
			return err
		}
	}

	fmt.Println("Authorization complete")
	return nil
}
