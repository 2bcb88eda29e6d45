// Package intent turns free-form utterances into structured intents.
package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/chatfin/internal/model"
)

// Match is a successful trigger match.
type Match struct {
	Kind       model.IntentKind
	Trigger    string
	Start      int
	End        int
	Confidence float64
}

// Matcher recognizes one intent kind. The parser tries matchers in order and
// the first that matches decides the kind.
type Matcher interface {
	TryMatch(text string) (Match, bool)
}

// Pattern describes a regex-backed intent trigger.
type Pattern struct {
	Name       string
	Kind       model.IntentKind
	Regex      string
	Confidence float64
}

// PatternMatcher is a compiled Pattern.
type PatternMatcher struct {
	re *regexp.Regexp
	Pattern
}

// NewPatternMatcher compiles p. Patterns are case-insensitive.
func NewPatternMatcher(p Pattern) (*PatternMatcher, error) {
	expr := p.Regex
	if !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %s: %w", p.Name, err)
	}
	return &PatternMatcher{Pattern: p, re: re}, nil
}

// TryMatch implements Matcher. The trigger is the first capture group when
// present, otherwise the whole match.
func (m *PatternMatcher) TryMatch(text string) (Match, bool) {
	loc := m.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return Match{}, false
	}
	start, end := loc[0], loc[1]
	if len(loc) >= 4 && loc[2] >= 0 {
		start, end = loc[2], loc[3]
	}
	return Match{
		Kind:       m.Kind,
		Trigger:    text[start:end],
		Start:      start,
		End:        end,
		Confidence: m.Confidence,
	}, true
}

// DefaultPatterns returns the built-in triggers in evaluation order.
// A leading interrogative wins over any transaction verb so that
// "how much did I spend" is a query.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:       "Leading Query",
			Kind:       model.IntentQuery,
			Regex:      `^\s*(how much|how many|what(?:'s| is| was| did| are)|show(?: me)?|list|total)\b`,
			Confidence: 0.9,
		},
		{
			Name:       "Expense",
			Kind:       model.IntentExpense,
			Regex:      `\b(spent|paid|bought|purchased)\b`,
			Confidence: 0.9,
		},
		{
			Name:       "Income",
			Kind:       model.IntentIncome,
			Regex:      `\b(earned|received|got (?:my )?salary|salary credited|credited)\b`,
			Confidence: 0.85,
		},
		{
			Name:       "Saving",
			Kind:       model.IntentSaving,
			Regex:      `\b(saved|put aside|set aside)\b`,
			Confidence: 0.85,
		},
		{
			Name:       "Query",
			Kind:       model.IntentQuery,
			Regex:      `\b(how much|how many|show me|spending|summary)\b`,
			Confidence: 0.7,
		},
	}
}

// DefaultMatchers compiles DefaultPatterns.
func DefaultMatchers() []Matcher {
	patterns := DefaultPatterns()
	matchers := make([]Matcher, 0, len(patterns))
	for _, p := range patterns {
		m, err := NewPatternMatcher(p)
		if err != nil {
			// Built-in patterns are constant; failing here is a programming error.
			panic(err)
		}
		matchers = append(matchers, m)
	}
	return matchers
}
