package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/cli"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/model"
)

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <utterance>",
		Short: "Show how an utterance is understood",
		Example: `  chatfin parse "Spent 500 on food at Swiggy"
  chatfin parse --json "How much did I spend on groceries last month?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runParse,
	}
	cmd.Flags().Bool("json", false, "print the parsed intent as JSON")
	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	parsed := intent.NewParser().Parse(strings.Join(args, " "))

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(parsed)
	}

	fmt.Fprintln(out, formatIntent(parsed))
	return nil
}

func formatIntent(p model.ParsedIntent) string {
	amount := "-"
	if p.Amount != nil {
		amount = p.Amount.StringFixed(2)
	}
	rows := [][]string{
		{"Kind", string(p.Kind)},
		{"Amount", amount},
		{"Merchant", dash(p.MerchantHint)},
		{"Category", dash(p.CategoryHint)},
		{"Time range", dash(string(p.TimeRange))},
		{"Trigger", dash(p.Trigger)},
		{"Confidence", fmt.Sprintf("%.2f", p.Confidence)},
	}
	out := cli.RenderBox(cli.QuestionIcon+" "+p.RawText, cli.RenderTable([]string{"Slot", "Value"}, rows))
	if len(p.Issues) > 0 {
		out += "\n" + cli.FormatIssues(p.Issues)
	}
	return out
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
