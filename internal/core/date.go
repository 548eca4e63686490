package core

import (
	"strings"
	"time"
)

// LedgerDateLayout is the date format written to the ledger.
const LedgerDateLayout = "2006/01/02"

var dateLayouts = []string{
	LedgerDateLayout,
	"2006-01-02",
	"2006/1/2",
	"2006-1-2",
	"2006年1月2日",
	"2006.01.02",
	"1/2/2006",
	time.RFC3339,
}

// ParseDate parses the date formats produced by the model and by the
// spreadsheet renderer. The result is midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatDate renders t in the ledger layout.
func FormatDate(t time.Time) string {
	return t.Format(LedgerDateLayout)
}
