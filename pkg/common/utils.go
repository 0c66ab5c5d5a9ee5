// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package common

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	CheckMark = "\u2714"
	CrossMark = "\u2718"
)

// TrimCutset is the set of characters stripped from both ends of every
// value before comparison. It includes the no-break and ideographic spaces
// that spreadsheet exports leave behind.
const TrimCutset = " \t\n\r\v\f\u00a0\u3000"

// NumericPattern is the accepted decimal grammar. The same pattern is used
// in SQL so both engines agree on what parses.
const NumericPattern = `^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]{1,3})?$`

// DigitsPattern matches values made only of ASCII digits.
const DigitsPattern = `^[0-9]+$`

var (
	numericRe = regexp.MustCompile(NumericPattern)
	digitsRe  = regexp.MustCompile(DigitsPattern)
)

// Stringify renders a raw cell value as text. Null and NaN become the empty
// string. Values are not trimmed.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(v)) {
			return ""
		}
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", val)
}

// IsNull reports whether val is stored as SQL NULL when staged.
func IsNull(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	}
	return false
}

func Trim(s string) string {
	return strings.Trim(s, TrimCutset)
}

// Normalize reduces a raw value to its canonical comparison form.
func Normalize(val any) string {
	return Trim(Stringify(val))
}

// NormalizeColumn applies Normalize to every element.
func NormalizeColumn(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = Normalize(v)
	}
	return out
}

// ParseDecimal parses a normalized value. ok is false when s does not match
// NumericPattern.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	if !numericRe.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func IsDigits(s string) bool {
	return digitsRe.MatchString(s)
}

// Prefix returns the first n characters of s, counted in runes.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Substring returns runes [low, high) of s with Python slice clamping for
// non-negative bounds. A negative high means "to the end".
func Substring(s string, low, high int) string {
	r := []rune(s)
	if high < 0 || high > len(r) {
		high = len(r)
	}
	if low > high {
		return ""
	}
	return string(r[low:high])
}

// ContainsMarker reports whether name carries marker. An empty marker never
// matches.
func ContainsMarker(name, marker string) bool {
	return marker != "" && strings.Contains(name, marker)
}

// SafeCut shortens s to at most n runes for log output.
func SafeCut(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Prefix(s, n) + "..."
}
