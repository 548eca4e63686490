// Package core provides the receipt domain model.
//
// This file contains helpers for parsing yen amounts out of free text and
// computing the deductible share of an amount.
package core

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// yenPattern matches "¥3,000", "￥3,000" and the backslash rendering of the
// yen sign some OCR engines emit.
var yenPattern = regexp.MustCompile(`[¥￥\\]\s*([0-9][0-9,]*)`)

// ParseAmount converts a model-provided amount into a non-negative integer.
//
// It accepts plain integers ("3000"), grouped digits ("3,000"), a leading yen
// sign and a trailing "円". Anything else, including negative numbers and
// fractions, is rejected.
//
// Examples:
//
//	ParseAmount("3,000")  -> 3000, true
//	ParseAmount("¥1,280") -> 1280, true
//	ParseAmount("-5")     -> 0, false
func ParseAmount(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "¥￥\\")
	s = strings.TrimSuffix(s, "円")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// AmountFromNumber accepts a JSON number only when it is a non-negative integer.
func AmountFromNumber(f float64) (int64, bool) {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt64/2 {
		return 0, false
	}
	return int64(f), true
}

// FindYenAmount returns the first yen-prefixed amount found in text.
func FindYenAmount(text string) (int64, bool) {
	m := yenPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	return ParseAmount(m[1])
}

// FloorExpense returns floor(amount * ratio), the planned deductible amount.
func FloorExpense(amount int64, ratio float64) int64 {
	return int64(math.Floor(float64(amount)*ratio + 1e-9))
}

// ParseRatio parses an allocation ratio in [0,1]. Percent notation ("50%") is accepted.
func ParseRatio(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if pct {
		f /= 100
	}
	if f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}
