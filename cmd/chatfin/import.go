package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/assistant"
	"github.com/Veraticus/chatfin/internal/cli"
)

func importCmd() *cobra.Command {
	var (
		learn        bool
		workers      int
		quiet        bool
		listAccounts bool
	)

	cmd := &cobra.Command{
		Use:   "import <statement.ofx>...",
		Short: "Import bank statements from OFX/QFX files",
		Long: `Import transactions from OFX or QFX statements. Lines are grouped by
merchant and each group is categorized once. Lines already imported are
skipped, so a statement can be imported again safely.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := cmd.OutOrStdout()
			for _, path := range args {
				if listAccounts {
					if err := printAccounts(cmd, a, path); err != nil {
						return err
					}
					continue
				}

				opts := assistant.ImportOptions{Learn: learn, Workers: workers}
				if !quiet {
					opts.Progress = lazyProgress(path)
				}

				result, err := importFile(cmd, a, path, opts)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s: imported %d transactions", path, result.Imported)))
				if result.Duplicates > 0 {
					fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Skipped %d already imported", result.Duplicates)))
				}
				if result.Batch != nil && result.Batch.NeedsReviewTxns > 0 {
					fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d transactions across %d merchants need review",
						result.Batch.NeedsReviewTxns, result.Batch.NeedsReviewCount)))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&learn, "learn", false, "Learn from groups that were categorized confidently")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of categorization workers (0 uses the default)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	cmd.Flags().BoolVar(&listAccounts, "list-accounts", false, "List the accounts in each statement without importing")

	return cmd
}

func importFile(cmd *cobra.Command, a *app, path string, opts assistant.ImportOptions) (*assistant.ImportResult, error) {
	f, err := os.Open(path) // #nosec G304 - user-supplied statement path
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	result, err := a.svc.ImportStatement(cmd.Context(), a.cfg.User, f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return result, nil
}

func printAccounts(cmd *cobra.Command, a *app, path string) error {
	f, err := os.Open(path) // #nosec G304 - user-supplied statement path
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	accounts, err := a.svc.StatementAccounts(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to read accounts from %s: %w", path, err)
	}
	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(path+": no accounts"))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, strings.Join(accounts, ", "))
	return nil
}

// lazyProgress creates the bar on the first callback, once the number of
// merchant groups is known.
func lazyProgress(description string) func(done, total int) {
	var (
		once   sync.Once
		update func(done, total int)
	)
	return func(done, total int) {
		once.Do(func() {
			update = cli.ProgressFunc(cli.NewProgressBar(os.Stderr, total, description))
		})
		update(done, total)
	}
}
