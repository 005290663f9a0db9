package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/clone"
	"github.com/semfind/semfind/internal/indexing"
)

// progressReporter is the slice of the controller the job wait needs
type progressReporter interface {
	IndexingProgress() *indexing.Progress
}

var indexCmd = &cobra.Command{
	Use:   "index [owner/repo]",
	Short: "Index a connected repository or local folders",
	Long: `Dispatch an indexing job and wait for it to finish. With a repository
argument the repository's active branch is indexed; with --folder flags the
given local folders are indexed instead. Only one indexing job runs at a
time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringSlice("folder", nil, "Local folder to index (repeatable)")
	indexCmd.Flags().String("mode", clone.DefaultMode, "Chunking mode for local folders")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	folders, err := cmd.Flags().GetStringSlice("folder")
	if err != nil {
		return err
	}

	switch {
	case len(args) == 1 && len(folders) > 0:
		return fmt.Errorf("specify a repository or --folder, not both")

	case len(args) == 1:
		job, err := ctrl.StartIndexing(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Indexing %s...\n", args[0])
		return waitForJob(ctrl, job.Done)

	case len(folders) > 0:
		mode, err := cmd.Flags().GetString("mode")
		if err != nil {
			return err
		}
		job, err := ctrl.StartLocalIndexing(ctx, &backend.LocalIndexRequest{
			Folders:   folders,
			Mode:      mode,
			Excludes:  clone.DefaultExcludes,
			MaxSizeMB: clone.DefaultMaxSizeMB,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Indexing %d folders...\n", len(folders))
		return waitForJob(ctrl, job.Done)

	default:
		return fmt.Errorf("specify a repository or at least one --folder")
	}
}

// waitForJob prints progress while the indexing job runs
func waitForJob(ctrl progressReporter, done <-chan error) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			fmt.Println("Indexing complete")
			return nil
		case <-ticker.C:
			prog := ctrl.IndexingProgress()
			if prog == nil || prog.Report == nil {
				continue
			}
			fmt.Printf("  %.0f%% (%d files) %s\n",
				prog.Report.Progress*100, prog.Report.TotalFiles, prog.Report.CurrentFile)
		}
	}
}
