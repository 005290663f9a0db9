package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <owner/repo>",
	Short: "Apply pending changes to the repository's index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ctrl, err := newController(ctx)
		if err != nil {
			return err
		}
		defer ctrl.Stop()

		result, err := ctrl.Sync(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Synced %s: %d added, %d modified, %d removed\n",
			args[0], result.FilesAdded, result.FilesModified, result.FilesRemoved)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <owner/repo>",
	Short: "Refresh remote tracking info for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ctrl, err := newController(ctx)
		if err != nil {
			return err
		}
		defer ctrl.Stop()

		result, err := ctrl.Fetch(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %s: %d ahead, %d behind\n", args[0], result.Ahead, result.Behind)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <owner/repo>",
	Short: "Retry a failed repository",
	Long: `Retry a failed repository. A failed clone is recloned; a failed index is
re-evaluated against the backend, which decides whether indexing is still
needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ctrl, err := newController(ctx)
		if err != nil {
			return err
		}
		defer ctrl.Stop()

		outcome, err := ctrl.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		switch {
		case outcome.Recloned:
			fmt.Printf("Recloning %s\n", args[0])
		case outcome.NeedsIndexing:
			fmt.Printf("%s still needs indexing; run 'semfind index %s'\n", args[0], args[0])
		default:
			msg := outcome.Message
			if msg == "" {
				msg = "repository is up to date"
			}
			fmt.Println(msg)
		}
		return nil
	},
}
