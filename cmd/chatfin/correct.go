package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/cli"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <id> <category>",
		Short: "Fix the category of a receipt or transaction",
		Long: `Change the category of a stored receipt (default) or transaction and
teach the learner that the previous category was wrong.`,
		Example: `  chatfin correct 3f2a... Groceries
  chatfin correct --transaction 9b1c... "Dining Out"`,
		Args: cobra.ExactArgs(2),
		RunE: runCorrect,
	}
	cmd.Flags().Bool("transaction", false, "the ID names a transaction instead of a receipt")
	return cmd
}

func runCorrect(cmd *cobra.Command, args []string) error {
	isTransaction, _ := cmd.Flags().GetBool("transaction")
	id, category := args[0], args[1]

	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if isTransaction {
		err = a.svc.CorrectTransaction(ctx, a.cfg.User, id, category)
	} else {
		err = a.svc.CorrectDocument(ctx, a.cfg.User, id, category)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Recategorized %s as %s", id, category)))
	return nil
}
