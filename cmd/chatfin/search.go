package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/cli"
	"github.com/Veraticus/chatfin/internal/model"
)

const dateLayout = "2006-01-02"

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   "Find stored receipts by keyword",
		Example: `  chatfin search dmart milk --from 2024-03-01 --to 2024-03-31`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runSearch,
	}
	cmd.Flags().String("category", "", "only documents in this category")
	cmd.Flags().String("from", "", "earliest receipt date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "latest receipt date (YYYY-MM-DD)")
	cmd.Flags().Int("limit", 0, "maximum results (default from config)")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters, err := searchFilters(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	results, err := a.svc.SearchDocuments(ctx, a.cfg.User, strings.Join(args, " "), filters)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSearchResults(results))
	return nil
}

func searchFilters(cmd *cobra.Command) (model.SearchFilters, error) {
	category, _ := cmd.Flags().GetString("category")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	limit, _ := cmd.Flags().GetInt("limit")

	filters := model.SearchFilters{Category: category, Limit: limit}
	if from == "" && to == "" {
		return filters, nil
	}

	r := model.DateRange{End: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
	if from != "" {
		start, err := time.Parse(dateLayout, from)
		if err != nil {
			return filters, fmt.Errorf("invalid --from date: %w", err)
		}
		r.Start = start
	}
	if to != "" {
		end, err := time.Parse(dateLayout, to)
		if err != nil {
			return filters, fmt.Errorf("invalid --to date: %w", err)
		}
		r.End = end
	}
	if r.End.Before(r.Start) {
		return filters, fmt.Errorf("--to must not be before --from")
	}
	filters.DateRange = &r
	return filters, nil
}
