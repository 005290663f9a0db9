package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories available to connect",
	Long: `List the repositories the authorized account can reach. The listing is
cached; use --refresh to force a new enumeration.`,
	RunE: runRepos,
}

func init() {
	reposCmd.Flags().Bool("refresh", false, "Force a fresh enumeration")
}

func runRepos(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	refresh, err := cmd.Flags().GetBool("refresh")
	if err != nil {
		return err
	}

	snap, err := ctrl.Catalog(ctx, refresh)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tDEFAULT BRANCH\tPRIVATE\tUPDATED")
	for _, entry := range snap.Entries {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
			entry.FullName, entry.DefaultBranch, entry.Private,
			entry.UpdatedAt.Format("2006-01-02"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d of %d repositories (fetched %s)\n",
		len(snap.Entries), snap.TotalCount, snap.FetchedAt.Format("15:04:05"))
	return nil
}
