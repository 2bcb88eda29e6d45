package document

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	totalKeywordRe = regexp.MustCompile(`(?i)\b(grand\s+total|net\s+amount|amount\s+due|amount\s+payable|total\s+payable|bill\s+amount|total)\b`)
	notTotalRe     = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total\s+(?:tax|gst|qty|quantity|items?|savings|discount))\b`)
	numberRe       = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyDateRe   = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4}|\d{2})\b`)
	monthDateRe = regexp.MustCompile(`(?i)\b(\d{1,2})[-\s]([a-z]{3})[a-z]*\.?[-\s,]*(\d{4})\b`)

	merchantStopRe = regexp.MustCompile(`(?i)\b(invoice|bill\s*no|receipt|gstin|gst\s*no|fssai|tel|phone|ph|mob(?:ile)?|date|time|cashier|table|order|token|www|http|thank|visit|welcome|transaction|successful)\b`)
	emailRe        = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
)

// findTotal returns the declared total and the index of the line it came from.
// Among all total lines the largest value wins.
func findTotal(lines []line) (*decimal.Decimal, int) {
	var best *decimal.Decimal
	bestLine := -1
	for i, l := range lines {
		if notTotalRe.MatchString(l.text) {
			continue
		}
		loc := totalKeywordRe.FindStringIndex(l.text)
		if loc == nil {
			continue
		}
		for _, raw := range numberRe.FindAllString(l.text[loc[1]:], -1) {
			value, ok := parseAmount(raw)
			if !ok || !value.IsPositive() {
				continue
			}
			if best == nil || value.GreaterThan(*best) {
				v := value
				best = &v
				bestLine = i
			}
		}
	}
	return best, bestLine
}

// findDate tries each format in priority order across all lines, so an ISO
// date anywhere beats a day/month date earlier in the document.
func findDate(lines []line) (*time.Time, int) {
	parsers := []func(string) (time.Time, bool){parseISODate, parseDMYDate, parseMonthDate}
	for _, parse := range parsers {
		for i, l := range lines {
			if d, ok := parse(l.text); ok {
				return &d, i
			}
		}
	}
	return nil, -1
}

func parseISODate(text string) (time.Time, bool) {
	m := isoDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return validDate(m[1], m[2], m[3])
}

func parseDMYDate(text string) (time.Time, bool) {
	m := dmyDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return validDate(year, m[2], m[1])
}

func parseMonthDate(text string) (time.Time, bool) {
	m := monthDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	d, err := time.Parse("2-Jan-2006", m[1]+"-"+strings.ToUpper(m[2][:1])+strings.ToLower(m[2][1:])+"-"+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func validDate(year, month, day string) (time.Time, bool) {
	y, errY := strconv.Atoi(year)
	mo, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil || mo < 1 || mo > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow such as 31/02; reject it.
	if t.Day() != d || int(t.Month()) != mo {
		return time.Time{}, false
	}
	return t, true
}

// findMerchant returns the first plausible business name among candidate lines.
func findMerchant(lines []line, candidates []int) (string, int) {
	for _, i := range candidates {
		if name, ok := merchantName(lines[i].text); ok {
			return name, i
		}
	}
	return "", -1
}

func merchantName(text string) (string, bool) {
	if merchantStopRe.MatchString(text) || emailRe.MatchString(text) {
		return "", false
	}
	letters, others := 0, 0
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
		default:
			others++
		}
	}
	if letters < 3 || letters < others {
		return "", false
	}
	name := strings.Join(strings.Fields(strings.Trim(text, " *-=#:|")), " ")
	return name, name != ""
}

var paymentModes = []struct {
	mode     string
	keywords []string
}{
	{"UPI", []string{"upi", "gpay", "google pay", "phonepe", "paytm", "bhim"}},
	{"CARD", []string{"card", "visa", "mastercard", "rupay", "amex"}},
	{"NETBANKING", []string{"neft", "imps", "rtgs", "net banking"}},
	{"CASH", []string{"cash"}},
}

// detectPaymentMode names the tender used, if the text mentions one.
func detectPaymentMode(text string) string {
	lower := strings.ToLower(text)
	for _, pm := range paymentModes {
		for _, kw := range pm.keywords {
			if strings.Contains(lower, kw) {
				return pm.mode
			}
		}
	}
	return ""
}

var (
	redactEmailRe  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	redactUPIRe    = regexp.MustCompile(`\b[A-Za-z0-9._-]{2,}@[A-Za-z]{2,20}\b`)
	redactNumberRe = regexp.MustCompile(`\b\d{6,}\b`)
)

// Redact masks e-mail addresses, UPI handles and long digit runs such as
// account, card and phone numbers.
func Redact(text string) string {
	text = redactEmailRe.ReplaceAllString(text, "[REDACTED_EMAIL]")
	text = redactUPIRe.ReplaceAllString(text, "[REDACTED_UPI]")
	return redactNumberRe.ReplaceAllString(text, "[REDACTED_NUMBER]")
}
