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

package equiv

import (
	"fmt"
	"regexp"
	"strconv"
)

// DateLayout is one accepted date spelling. Group indexes are 1-based
// capture positions in Pattern; zero means the layout has no such part.
type DateLayout struct {
	Name    string
	Pattern string
	Year    int
	Month   int
	Day     int
	Hour    int
	Minute  int
	Second  int

	re *regexp.Regexp
}

// DateLayouts are tried in order; the first valid match wins. Patterns use
// only syntax that PostgreSQL regular expressions read the same way.
var DateLayouts = []DateLayout{
	{Name: "iso", Pattern: `^([0-9]{4})-([0-9]{1,2})-([0-9]{1,2})$`, Year: 1, Month: 2, Day: 3},
	{Name: "slash", Pattern: `^([0-9]{4})/([0-9]{1,2})/([0-9]{1,2})$`, Year: 1, Month: 2, Day: 3},
	{Name: "cjk", Pattern: `^([0-9]{4})年([0-9]{1,2})月([0-9]{1,2})日$`, Year: 1, Month: 2, Day: 3},
	{Name: "us-dash", Pattern: `^([0-9]{1,2})-([0-9]{1,2})-([0-9]{4})$`, Year: 3, Month: 1, Day: 2},
	{Name: "us-slash", Pattern: `^([0-9]{1,2})/([0-9]{1,2})/([0-9]{4})$`, Year: 3, Month: 1, Day: 2},
	{Name: "compact", Pattern: `^([0-9]{4})([0-9]{2})([0-9]{2})$`, Year: 1, Month: 2, Day: 3},
	{
		Name:    "timestamp",
		Pattern: `^([0-9]{4})-([0-9]{1,2})-([0-9]{1,2}) ([0-9]{1,2}):([0-9]{1,2}):([0-9]{1,2})$`,
		Year:    1,
		Month:   2,
		Day:     3,
		Hour:    4,
		Minute:  5,
		Second:  6,
	},
}

func init() {
	for i := range DateLayouts {
		DateLayouts[i].re = regexp.MustCompile(DateLayouts[i].Pattern)
	}
}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y, m int) int {
	switch m {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if (y%4 == 0 && y%100 != 0) || y%400 == 0 {
			return 29
		}
		return 28
	}
	return 0
}

func (l DateLayout) parse(s string) (string, bool) {
	m := l.re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	part := func(idx int) int {
		if idx == 0 {
			return 0
		}
		n, _ := strconv.Atoi(m[idx])
		return n
	}
	y, mo, d := part(l.Year), part(l.Month), part(l.Day)
	if y < 1 || mo < 1 || mo > 12 || d < 1 || d > DaysIn(y, mo) {
		return "", false
	}
	if l.Hour != 0 && (part(l.Hour) > 23 || part(l.Minute) > 59 || part(l.Second) > 59) {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, mo, d), true
}

// NormalizeDate renders a trimmed value as YYYY-MM-DD using the first
// layout that parses it, or returns it unchanged.
func NormalizeDate(s string) string {
	if s == "" {
		return ""
	}
	for _, l := range DateLayouts {
		if out, ok := l.parse(s); ok {
			return out
		}
	}
	return s
}
