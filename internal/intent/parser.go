package intent

import (
	"strings"

	"github.com/Veraticus/chatfin/internal/model"
)

const (
	missingAmountPenalty = 0.5
	missingHintPenalty   = 0.85
)

// Parser is a rule-based intent and slot extractor. It is safe for concurrent use.
type Parser struct {
	matchers []Matcher
}

// NewParser creates a parser that tries matchers in the given order.
// With no matchers the built-in defaults are used.
func NewParser(matchers ...Matcher) *Parser {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Parser{matchers: matchers}
}

// Parse reads one utterance. It never fails: unrecognized input yields an
// unknown intent with the raw text retained and a parse_failure issue.
func (p *Parser) Parse(utterance string) model.ParsedIntent {
	text := strings.Join(strings.Fields(utterance), " ")
	result := model.ParsedIntent{
		Kind:    model.IntentUnknown,
		RawText: utterance,
	}
	if text == "" {
		result.Issues = append(result.Issues, model.Issue{
			Code:    model.IssueParseFailure,
			Message: "empty utterance",
		})
		return result
	}

	mask := []byte(text)

	match, matched := p.match(text)
	if matched {
		result.Kind = match.Kind
		result.Trigger = strings.ToLower(match.Trigger)
		blank(mask, match.Start, match.End)
	} else {
		result.Issues = append(result.Issues, model.Issue{
			Code:    model.IssueParseFailure,
			Message: "no intent trigger found",
		})
	}

	result.TimeRange = detectTimeRange(text)

	if tok, ok := PickAmount(FindAmounts(text)); ok {
		if tok.Valid {
			value := tok.Value
			result.Amount = &value
		} else {
			result.Issues = append(result.Issues, model.Issue{
				Code:    model.IssueInvalidNumericInput,
				Field:   string(model.SlotAmount),
				Message: "cannot read " + tok.Raw + " as an amount",
			})
		}
		blank(mask, tok.Start, tok.End)
	}

	if merchant, ok := extractMerchant(string(mask)); ok {
		result.MerchantHint = merchant.text
		blank(mask, merchant.start, merchant.end)
	}

	result.CategoryHint = extractCategory(string(mask))
	result.Confidence = p.confidence(result, match, matched)

	return result
}

func (p *Parser) match(text string) (Match, bool) {
	for _, m := range p.matchers {
		if match, ok := m.TryMatch(text); ok {
			return match, true
		}
	}
	return Match{}, false
}

func (p *Parser) confidence(result model.ParsedIntent, match Match, matched bool) float64 {
	if !matched {
		return 0
	}
	conf := match.Confidence
	if result.Kind.IsTransaction() {
		if !result.HasAmount() {
			conf *= missingAmountPenalty
		}
		if result.MerchantHint == "" && result.CategoryHint == "" {
			conf *= missingHintPenalty
		}
	}
	return conf
}
