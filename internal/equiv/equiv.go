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

// Package equiv decides whether a source and a target value are the same
// under a field rule. Equal works on one pair; MismatchMask works on whole
// columns. Both share the primitives in this file.
package equiv

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/common"
)

type verdict int

const (
	undecided verdict = iota
	same
	different
)

func decide(eq bool) verdict {
	if eq {
		return same
	}
	return different
}

type overrideFunc func(o rules.Override, a, b string) verdict

var overrideTable = map[rules.OverrideKind]overrideFunc{
	rules.OverrideHierarchicalPath: func(o rules.Override, a, b string) verdict {
		p := o.(rules.HierarchicalPath)
		return decide(LastSegment(a, p.SourceSeparator) == LastSegment(b, p.TargetSeparator))
	},
	rules.OverrideCodeCombination: func(o rules.Override, a, b string) verdict {
		c := o.(rules.CodeCombination)
		codes := c.Split(b)
		if len(codes) == 0 {
			return different
		}
		allowed := c.Allowed[a]
		for _, code := range codes {
			if _, ok := allowed[code]; !ok {
				return different
			}
		}
		return same
	},
	rules.OverrideEnumeration: func(o rules.Override, a, b string) verdict {
		return decide(o.(rules.Enumeration).Translate(a) == b)
	},
	rules.OverrideBooleanSynonym: synonym,
	rules.OverrideMethodSynonym:  synonym,
	rules.OverrideCategoryPrefix: func(o rules.Override, a, b string) verdict {
		c := o.(rules.CategoryPrefix)
		return decide(c.Reduce(a) == c.Reduce(b))
	},
}

func synonym(o rules.Override, a, b string) verdict {
	if o.(rules.Synonyms).Match(a, b) {
		return same
	}
	return undecided
}

// LastSegment returns the trimmed text after the last sep in v.
func LastSegment(v, sep string) string {
	if i := strings.LastIndex(v, sep); i >= 0 {
		v = v[i+len(sep):]
	}
	return common.Trim(v)
}

func applyOverride(r *rules.FieldRule, a, b string) verdict {
	if r.Override == nil {
		return undecided
	}
	fn, ok := overrideTable[r.Override.Kind()]
	if !ok {
		return undecided
	}
	return fn(r.Override, a, b)
}

// Equal reports whether raw values a and b are equivalent under r.
func Equal(a, b any, r *rules.FieldRule) bool {
	return EqualNormalized(common.Normalize(a), common.Normalize(b), r)
}

// EqualNormalized is Equal for values already passed through
// common.Normalize. Identical values, including two empty ones, are always
// equal. Otherwise the source value is mapped before the rules apply.
func EqualNormalized(a, b string, r *rules.FieldRule) bool {
	if a == b {
		return true
	}
	if a = r.SourceValue(a); a == b {
		return true
	}
	if r.Booleans != nil && r.Booleans.Match(a, b) {
		return true
	}
	switch applyOverride(r, a, b) {
	case same:
		return true
	case different:
		return false
	}
	switch r.Type {
	case rules.Numeric:
		da, okA := common.ParseDecimal(a)
		db, okB := common.ParseDecimal(b)
		return numericEqual(da, okA, db, okB, r)
	case rules.Date:
		return truncate(NormalizeDate(a), r.Tolerance.Precision) == truncate(NormalizeDate(b), r.Tolerance.Precision)
	}
	return false
}

// numericEqual compares two parsed sides. Callers have already handled
// identical strings, so two unparsable sides are different.
func numericEqual(a decimal.Decimal, okA bool, b decimal.Decimal, okB bool, r *rules.FieldRule) bool {
	if !okA || !okB {
		return false
	}
	if r.Absolute {
		a, b = a.Abs(), b.Abs()
	}
	if r.Tolerance.HasDelta {
		return a.Sub(b).Abs().LessThanOrEqual(r.Tolerance.Delta)
	}
	return a.Equal(b)
}

func truncate(s string, p rules.Precision) string {
	if p == rules.PrecisionNone {
		return s
	}
	return common.Prefix(s, int(p))
}
