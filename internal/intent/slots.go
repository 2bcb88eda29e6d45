package intent

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	merchantProperRe = regexp.MustCompile(`\b(?:[Aa][Tt]|[Ff][Rr][Oo][Mm])\s+([A-Z][\w&'.-]*(?:\s+[A-Z][\w&'.-]*)*)`)
	merchantLowerRe  = regexp.MustCompile(`(?i)\b(?:at|from)\s+([a-z][\w&'-]*(?:\s+[a-z][\w&'-]*){0,2})`)
	categoryLeadRe   = regexp.MustCompile(`(?i)\b(?:on|for)\s+(.+)`)
	wordRe           = regexp.MustCompile(`\S+`)
)

var stopWords = toSet(
	"i", "me", "my", "we", "our", "you", "the", "a", "an", "and", "or", "to", "of", "in", "at",
	"from", "on", "for", "with", "by", "did", "do", "does", "is", "was", "are", "much", "how",
	"many", "what", "whats", "show", "list", "total", "spend", "spent", "paid", "pay", "bought",
	"purchased", "earned", "received", "got", "saved", "save", "credited", "aside", "put",
	"set", "rs", "inr", "usd", "eur", "rupees", "rupee", "dollars", "bucks", "just", "some",
	"worth", "please", "about", "around", "spending", "summary", "it", "that", "there",
)

var timeWords = toSet(
	"today", "yesterday", "tonight", "this", "last", "week", "month", "year", "morning",
	"evening", "night", "ago",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopWord reports whether w carries no slot meaning.
func IsStopWord(w string) bool {
	w = strings.ToLower(cleanWord(w))
	_, stop := stopWords[w]
	_, tw := timeWords[w]
	return stop || tw
}

func cleanWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
}

func hasDigit(w string) bool {
	return strings.IndexFunc(w, unicode.IsDigit) >= 0
}

type span struct {
	text  string
	start int
	end   int
}

// extractMerchant looks for "at/from <Proper Noun>", then a lowercase name
// after at/from, then the longest capitalized run of non-stop words.
func extractMerchant(text string) (span, bool) {
	if loc := merchantProperRe.FindStringSubmatchIndex(text); loc != nil {
		name := strings.TrimRight(text[loc[2]:loc[3]], ".")
		if words := leadingContentWords(name, 6); words != "" {
			return span{text: words, start: loc[0], end: loc[3]}, true
		}
	}

	if loc := merchantLowerRe.FindStringSubmatchIndex(text); loc != nil {
		if words := leadingContentWords(strings.ToLower(text[loc[2]:loc[3]]), 3); words != "" {
			return span{text: words, start: loc[0], end: loc[3]}, true
		}
	}

	return longestCapitalizedSpan(text)
}

// leadingContentWords keeps words up to the first stop, time or numeric word.
func leadingContentWords(s string, limit int) string {
	fields := strings.Fields(s)
	for len(fields) > 0 && isArticle(fields[0]) {
		fields = fields[1:]
	}
	var kept []string
	for _, f := range fields {
		w := cleanWord(f)
		if w == "" || IsStopWord(w) || hasDigit(w) || len(kept) == limit {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func isArticle(w string) bool {
	switch strings.ToLower(w) {
	case "the", "a", "an":
		return true
	}
	return false
}

func longestCapitalizedSpan(text string) (span, bool) {
	var best, cur span
	var curWords, bestWords int
	prevWord := ""

	flush := func() {
		if curWords > bestWords {
			best, bestWords = cur, curWords
		}
		cur, curWords = span{}, 0
	}

	for _, loc := range wordRe.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		w := cleanWord(raw)
		r := []rune(w)
		capitalized := len(r) > 1 && unicode.IsUpper(r[0]) && !IsStopWord(w) && !hasDigit(w)
		if !capitalized {
			flush()
			prevWord = strings.ToLower(w)
			continue
		}
		if curWords == 0 {
			// A capitalized phrase after on/for names the category, not the merchant.
			if prevWord == "on" || prevWord == "for" {
				prevWord = strings.ToLower(w)
				continue
			}
			cur = span{text: w, start: loc[0], end: loc[1]}
		} else {
			cur.text += " " + w
			cur.end = loc[1]
		}
		curWords++
		prevWord = strings.ToLower(w)
	}
	flush()

	return best, bestWords > 0
}

// extractCategory reads the phrase after on/for, else the remaining content words.
func extractCategory(masked string) string {
	if loc := categoryLeadRe.FindStringSubmatchIndex(masked); loc != nil {
		if words := leadingContentWords(strings.ToLower(masked[loc[2]:loc[3]]), 3); words != "" {
			return words
		}
	}

	var kept []string
	for _, f := range strings.Fields(strings.ToLower(masked)) {
		w := cleanWord(f)
		if len(w) < 2 || IsStopWord(w) || hasDigit(w) {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 3 {
			break
		}
	}
	return strings.Join(kept, " ")
}

func blank(mask []byte, start, end int) {
	for i := start; i < end && i < len(mask); i++ {
		mask[i] = ' '
	}
}
