package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection and indexing status",
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run change detection in the foreground",
	Long: `Run the change-detection loop: every indexed repository is periodically
compared against its branch head and annotated with pending changes.
Interrupt with Ctrl-C to stop.`,
	RunE: runWatch,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	authorized, err := ctrl.Authorized()
	if err != nil {
		return err
	}
	if authorized {
		fmt.Println("Authorization: active")
	} else {
		fmt.Println("Authorization: none (run 'semfind login')")
	}

	conns := ctrl.Connections(ctx)
	if len(conns) == 0 {
		fmt.Println("No connected repositories")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tBRANCH\tSTATUS\tPENDING\tLAST FETCH")
	for _, conn := range conns {
		pending := "-"
		if conn.PendingChanges != nil {
			pending = fmt.Sprintf("%d (+%d/-%d)",
				conn.PendingChanges.Count, conn.PendingChanges.Ahead, conn.PendingChanges.Behind)
		}
		lastFetch := "-"
		if conn.LastFetchTS != nil {
			lastFetch = conn.LastFetchTS.Format("2006-01-02 15:04")
		}
		status := string(conn.Status)
		if conn.ErrorMessage != "" {
			status += " (" + conn.ErrorMessage + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			conn.FullName, conn.ActiveBranch, status, pending, lastFetch)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if prog := ctrl.IndexingProgress(); prog != nil {
		fmt.Printf("\nIndexing job %s running (%s %s)\n", prog.JobID, prog.Kind, prog.FullName)
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}

	ctrl.Start(ctx)
	fmt.Println("Watching indexed repositories for changes (Ctrl-C to stop)")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctrl.Stop()
	fmt.Println("Stopped")
	return nil
}
