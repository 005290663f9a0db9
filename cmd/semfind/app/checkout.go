package app

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout <owner/repo> <branch>",
	Short: "Switch the active branch of a connected repository",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckout,
}

var branchesCmd = &cobra.Command{
	Use:   "branches <owner/repo>",
	Short: "List branches of a connected repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranches,
}

func init() {
	branchesCmd.Flags().Bool("indexed", false, "List only branches with index data")
}

func runCheckout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fullName, branchName := args[0], args[1]

	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	result, err := ctrl.Checkout(ctx, fullName, branchName)
	if err != nil {
		return err
	}

	fmt.Printf("Switched %s to %s\n", fullName, result.Branch)
	switch {
	case result.NeedsIndexing:
		fmt.Printf("Branch has no index yet; run 'semfind index %s'\n", fullName)
	case result.PendingChanges != nil:
		fmt.Printf("Branch index is %d files behind; run 'semfind sync %s'\n",
			result.PendingChanges.Count, fullName)
	default:
		fmt.Println("Branch index is up to date")
	}
	return nil
}

func runBranches(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fullName := args[0]

	ctrl, err := newController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	indexedOnly, err := cmd.Flags().GetBool("indexed")
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	if indexedOnly {
		branches, err := ctrl.IndexedBranches(ctx, fullName)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "BRANCH\tCHUNKS\tFILES\tLAST INDEXED")
		for _, b := range branches {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
				b.Name, b.TotalChunks, b.FileCount,
				time.Unix(b.LastIndexed, 0).Format("2006-01-02 15:04"))
		}
	} else {
		branches, err := ctrl.Branches(ctx, fullName)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "BRANCH\tCOMMIT\tPROTECTED\tLOCAL")
		for _, b := range branches {
			sha := b.CommitSHA
			if len(sha) > 12 {
				sha = sha[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", b.Name, sha, b.Protected, b.AvailableLocally)
		}
	}
	return w.Flush()
}
