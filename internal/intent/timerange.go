package intent

import (
	"regexp"
	"time"

	"github.com/Veraticus/chatfin/internal/model"
)

var timeRangePatterns = []struct {
	re    *regexp.Regexp
	value model.TimeRange
}{
	{regexp.MustCompile(`(?i)\btoday\b`), model.RangeToday},
	{regexp.MustCompile(`(?i)\byesterday\b`), model.RangeYesterday},
	{regexp.MustCompile(`(?i)\bthis week\b`), model.RangeThisWeek},
	{regexp.MustCompile(`(?i)\blast week\b`), model.RangeLastWeek},
	{regexp.MustCompile(`(?i)\bthis month\b`), model.RangeThisMonth},
	{regexp.MustCompile(`(?i)\blast month\b`), model.RangeLastMonth},
	{regexp.MustCompile(`(?i)\bthis year\b`), model.RangeThisYear},
}

func detectTimeRange(text string) model.TimeRange {
	for _, p := range timeRangePatterns {
		if p.re.MatchString(text) {
			return p.value
		}
	}
	return model.RangeNone
}

// ResolveTimeRange converts a relative range into [start, end) in now's location.
// Weeks start on Monday. ok is false for RangeNone.
func ResolveTimeRange(tr model.TimeRange, now time.Time) (start, end time.Time, ok bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekday := int(day.Weekday()+6) % 7
	weekStart := day.AddDate(0, 0, -weekday)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	switch tr {
	case model.RangeToday:
		return day, day.AddDate(0, 0, 1), true
	case model.RangeYesterday:
		return day.AddDate(0, 0, -1), day, true
	case model.RangeThisWeek:
		return weekStart, weekStart.AddDate(0, 0, 7), true
	case model.RangeLastWeek:
		return weekStart.AddDate(0, 0, -7), weekStart, true
	case model.RangeThisMonth:
		return monthStart, monthStart.AddDate(0, 1, 0), true
	case model.RangeLastMonth:
		return monthStart.AddDate(0, -1, 0), monthStart, true
	case model.RangeThisYear:
		yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return yearStart, yearStart.AddDate(1, 0, 0), true
	default:
		return time.Time{}, time.Time{}, false
	}
}
