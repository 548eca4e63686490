package core

import (
	"strings"
	"time"
)

// DuplicateRule holds the thresholds of the duplicate heuristic.
type DuplicateRule struct {
	// DayTolerance is the maximum distance in calendar days between the two dates.
	DayTolerance int
}

// DefaultDuplicateRule matches receipts dated within one day of each other.
func DefaultDuplicateRule() DuplicateRule {
	return DuplicateRule{DayTolerance: 1}
}

// IsDuplicate reports whether candidate probably repeats existing: the
// amounts are equal and nonzero, the dates are within the tolerance and one
// payee contains the other. The result is advisory only.
func IsDuplicate(candidate, existing LedgerEntry, rule DuplicateRule) bool {
	if candidate.Amount == 0 || candidate.Amount != existing.Amount {
		return false
	}
	if candidate.Date.IsZero() || existing.Date.IsZero() {
		return false
	}
	if DaysBetween(candidate.Date, existing.Date) > rule.DayTolerance {
		return false
	}
	a, b := candidate.Payee, existing.Payee
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// FindDuplicate returns true when any existing entry matches the candidate.
func FindDuplicate(candidate LedgerEntry, existing []LedgerEntry, rule DuplicateRule) bool {
	for _, e := range existing {
		if IsDuplicate(candidate, e, rule) {
			return true
		}
	}
	return false
}

// DaysBetween returns the absolute distance in calendar days between the
// civil dates of a and b.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}
