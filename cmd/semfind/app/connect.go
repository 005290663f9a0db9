package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/catalog"
)

// catalogLister is the slice of the controller the entry lookup needs
type catalogLister interface {
	Catalog(ctx context.Context, forceRefresh bool) (*catalog.Snapshot, error)
}

var connectCmd = &cobra.Command{
	Use:   "connect <owner/repo>",
	Short: "Connect a repository and clone it",
	Long: `Connect a repository from the catalog and clone it into local storage.
The command waits for the clone; interrupt with Ctrl-C to cancel, which
removes the connection entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fullName := args[0]

	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	entry, err := findCatalogEntry(ctx, ctrl, fullName)
	if err != nil {
		return err
	}

	op, err := ctrl.Connect(ctx, *entry)
	if err != nil {
		return err
	}
	fmt.Printf("Cloning %s...\n", fullName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		if err := ctrl.CancelClone(ctx, fullName); err != nil {
			return err
		}
		<-op.Done
		fmt.Println("Clone cancelled, connection removed")
		return nil
	case err := <-op.Done:
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("Clone cancelled, connection removed")
				return nil
			}
			return fmt.Errorf("clone failed: %w", err)
		}
	}

	conn, err := ctrl.Connection(ctx, fullName)
	if err != nil {
		return err
	}
	fmt.Printf("Cloned %s to %s (branch %s)\n", fullName, conn.LocalPath, conn.ActiveBranch)
	fmt.Printf("Run 'semfind index %s' to make it searchable\n", fullName)
	return nil
}

// findCatalogEntry resolves a full name against the cached catalog,
// refreshing once if the name is not present
func findCatalogEntry(ctx context.Context, ctrl catalogLister, fullName string) (*backend.CatalogEntry, error) {
	for _, force := range []bool{false, true} {
		snap, err := ctrl.Catalog(ctx, force)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for i := range snap.Entries {
			if snap.Entries[i].FullName == fullName {
				return &snap.Entries[i], nil
			}
		}
	}
	return nil, fmt.Errorf("repository %s not found in catalog", fullName)
}
