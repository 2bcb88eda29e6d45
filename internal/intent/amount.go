package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var numberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)*`)

var (
	currencyPrefixes = []string{"₹", "rs.", "rs", "inr", "$", "usd", "€", "eur", "£", "gbp"}
	currencySuffixes = []string{"rupees", "rupee", "rs", "inr", "dollars", "usd", "euros", "eur", "bucks", "₹"}
)

// AmountToken is a standalone numeric token found in text.
type AmountToken struct {
	Value  decimal.Decimal
	Raw    string
	Start  int
	End    int
	HasCue bool
	Valid  bool
}

// FindAmounts returns every standalone numeric token in text, in order.
// Numbers glued to letters ("10th", "a4") or part of dates and clock times
// are skipped.
func FindAmounts(text string) []AmountToken {
	var tokens []AmountToken
	for _, loc := range numberRe.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		for end > start && text[end-1] == ',' {
			end--
		}
		before, after := text[:start], text[end:]

		cueBefore := hasCurrencyPrefix(before)
		cueAfter := hasCurrencySuffix(after)

		prev, _ := utf8.DecodeLastRuneInString(before)
		next, _ := utf8.DecodeRuneInString(after)
		if len(before) > 0 && unicode.IsLetter(prev) && !cueBefore {
			continue
		}
		if len(after) > 0 && unicode.IsLetter(next) && !cueAfter {
			continue
		}
		if isDatePunct(prev) || isDatePunct(next) {
			continue
		}

		raw := text[start:end]
		value, ok := ParseNumber(raw)
		tokens = append(tokens, AmountToken{
			Raw:    raw,
			Value:  value,
			Start:  start,
			End:    end,
			HasCue: cueBefore || cueAfter,
			Valid:  ok,
		})
	}
	return tokens
}

// PickAmount chooses the token adjacent to a currency cue, else the first.
func PickAmount(tokens []AmountToken) (AmountToken, bool) {
	if len(tokens) == 0 {
		return AmountToken{}, false
	}
	for _, t := range tokens {
		if t.HasCue {
			return t, true
		}
	}
	return tokens[0], true
}

// ParseNumber parses a positive amount with optional thousands separators.
// More than one decimal point or a zero value is rejected.
func ParseNumber(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimRight(strings.TrimSpace(raw), ",")
	if raw == "" || strings.Count(raw, ".") > 1 {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || !value.IsPositive() {
		return decimal.Zero, false
	}
	return value, true
}

func hasCurrencyPrefix(before string) bool {
	trimmed := strings.ToLower(strings.TrimRight(before, " "))
	for _, cue := range currencyPrefixes {
		if !strings.HasSuffix(trimmed, cue) {
			continue
		}
		rest := trimmed[:len(trimmed)-len(cue)]
		if rest == "" {
			return true
		}
		r, _ := utf8.DecodeLastRuneInString(rest)
		if !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func hasCurrencySuffix(after string) bool {
	trimmed := strings.ToLower(strings.TrimLeft(after, " "))
	for _, cue := range currencySuffixes {
		if !strings.HasPrefix(trimmed, cue) {
			continue
		}
		rest := trimmed[len(cue):]
		if rest == "" {
			return true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func isDatePunct(r rune) bool {
	return r == '/' || r == ':'
}
