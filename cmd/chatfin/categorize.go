package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/cli"
)

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize <text>",
		Short: "Score text against the global model and your learned categories",
		Example: `  chatfin categorize "dinner" --merchant Zomato --amount 640`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCategorize,
	}
	cmd.Flags().String("merchant", "", "merchant name")
	cmd.Flags().String("amount", "", "transaction amount")
	return cmd
}

func runCategorize(cmd *cobra.Command, args []string) error {
	merchant, _ := cmd.Flags().GetString("merchant")
	amountFlag, _ := cmd.Flags().GetString("amount")

	var amount *decimal.Decimal
	if amountFlag != "" {
		a, err := decimal.NewFromString(amountFlag)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", amountFlag, err)
		}
		amount = &a
	}

	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	result, err := a.svc.Categorize(ctx, a.cfg.User, strings.Join(args, " "), merchant, amount)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatCategorization(result))
	return nil
}
