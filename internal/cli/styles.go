// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/chatfin/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5B8DEF")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().
			Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(lipgloss.Color("#333"))

	// TableCellStyle formats table cells with appropriate padding.
	TableCellStyle = lipgloss.NewStyle().
			PaddingRight(2)

	// PromptStyle is used for user prompts.
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)
)

// Icons.
const (
	SuccessIcon  = "✓"
	ErrorIcon    = "✗"
	WarningIcon  = "⚠️"
	InfoIcon     = "ℹ️"
	WalletIcon   = "👛"
	ReceiptIcon  = "🧾"
	ChartIcon    = "📊"
	QuestionIcon = "❓"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the wallet icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(WalletIcon + " " + title)
}

// FormatPrompt formats a prompt message.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// RenderTable renders rows under a header with padded columns.
func RenderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	renderRow := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = style.Width(widths[i] + 2).Render(cell)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	lines := []string{renderRow(header, TableHeaderStyle)}
	for _, row := range rows {
		lines = append(lines, renderRow(row, TableCellStyle))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// FormatIssues renders non-fatal issues as warnings, one per line.
func FormatIssues(issues []model.Issue) string {
	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		lines = append(lines, FormatWarning(issue.String()))
	}
	return strings.Join(lines, "\n")
}

// FormatCategorization renders a categorization with its candidates.
func FormatCategorization(result model.CategorizationResult) string {
	if result.Empty() {
		return FormatWarning("No category could be scored")
	}

	status := FormatSuccess(fmt.Sprintf("%s (%.0f%%, %s)", result.Category, result.Confidence*100, result.Source))
	if !result.AutoApplicable {
		status = FormatWarning(fmt.Sprintf("%s (%.0f%%, needs confirmation)", result.Category, result.Confidence*100))
	}

	rows := make([][]string, 0, len(result.Explanation))
	for _, r := range result.Explanation {
		rows = append(rows, []string{
			r.Category,
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%.3f", r.Global),
			fmt.Sprintf("%.3f", r.User),
			fmt.Sprintf("%.2f", r.Alpha),
			formatScopeWeights(r.ScopeWeights),
		})
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		status,
		RenderTable([]string{"Category", "Fused", "Global", "User", "Alpha", "Weights"}, rows))
}

func formatScopeWeights(weights map[model.MappingScope]float64) string {
	if len(weights) == 0 {
		return SubtleStyle.Render("-")
	}
	scopes := make([]model.MappingScope, 0, len(weights))
	for s := range weights {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Priority() < scopes[j].Priority() })

	parts := make([]string, 0, len(scopes))
	for _, s := range scopes {
		parts = append(parts, fmt.Sprintf("%s=%.2f", s, weights[s]))
	}
	return strings.Join(parts, " ")
}

// FormatDocument renders a structured receipt.
func FormatDocument(doc model.StructuredDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merchant: %s\n", orDash(doc.Merchant))
	if doc.Date != nil {
		fmt.Fprintf(&b, "Date:     %s\n", doc.Date.Format("2006-01-02"))
	}
	if doc.DeclaredTotal != nil {
		fmt.Fprintf(&b, "Total:    %s\n", doc.DeclaredTotal.StringFixed(2))
	}
	if doc.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", doc.Category)
	}
	fmt.Fprintf(&b, "OCR:      %.0f%% (%s)\n", doc.OCRConfidence*100, orDash(doc.OCREngine))

	rows := make([][]string, 0, len(doc.Items))
	for _, item := range doc.Items {
		name := item.Name
		if item.Mismatch {
			name = WarningStyle.Render(name + " !")
		}
		rows = append(rows, []string{name, item.Quantity.String(), item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2)})
	}
	if len(rows) > 0 {
		b.WriteString("\n")
		b.WriteString(RenderTable([]string{"Item", "Qty", "Unit", "Total"}, rows))
	}

	out := RenderBox(ReceiptIcon+" "+orDash(doc.ID), b.String())
	if len(doc.Issues) > 0 {
		out += "\n" + FormatIssues(doc.Issues)
	}
	return out
}

// FormatSummary renders a spending summary, largest category first.
func FormatSummary(summary *model.SpendingSummary, currency string) string {
	if summary == nil || summary.Count == 0 {
		return FormatInfo("No matching spending found")
	}

	categories := make([]string, 0, len(summary.ByCategory))
	for c := range summary.ByCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		ai, aj := summary.ByCategory[categories[i]], summary.ByCategory[categories[j]]
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return categories[i] < categories[j]
	})

	rows := make([][]string, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []string{c, currency + summary.ByCategory[c].StringFixed(2)})
	}

	title := fmt.Sprintf("%s Spent %s%s across %d transactions", ChartIcon, currency, summary.Total.StringFixed(2), summary.Count)
	return RenderBox(title, RenderTable([]string{"Category", "Amount"}, rows))
}

// FormatSearchResults renders ranked documents.
func FormatSearchResults(results []model.SearchResult) string {
	if len(results) == 0 {
		return FormatInfo("No matching documents")
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		date := "-"
		if r.Date != nil {
			date = r.Date.Format("2006-01-02")
		}
		rows = append(rows, []string{fmt.Sprintf("%.2f", r.Score), date, orDash(r.Merchant), orDash(r.Category), r.DocumentID})
	}
	return RenderTable([]string{"Score", "Date", "Merchant", "Category", "Document"}, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
