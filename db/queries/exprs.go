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

package queries

import (
	"fmt"

	"github.com/pgedge/recon/pkg/common"
)

// The helpers below build SQL value expressions that mirror the in-memory
// normalization in pkg/common. Arguments are SQL expressions, not values.

func cutset() string {
	return Literal(common.TrimCutset)
}

// Stringified maps NULL to the empty string.
func Stringified(expr string) string {
	return fmt.Sprintf("COALESCE(%s, '')", expr)
}

// Trimmed strips the comparison cutset from both ends of expr.
func Trimmed(expr string) string {
	return fmt.Sprintf("BTRIM(%s, %s)", expr, cutset())
}

// Normalized is the SQL form of common.Normalize for a staged text column.
func Normalized(expr string) string {
	return Trimmed(Stringified(expr))
}

// EscapedKeyPart escapes escape and '|' inside a key component the way
// keys.EscapePart does.
func EscapedKeyPart(expr, escape string) string {
	return fmt.Sprintf("replace(replace(%s, %s, %s), '|', %s)",
		expr, Literal(escape), Literal(escape+escape), Literal(escape+"|"))
}

// Matches tests expr against a POSIX regular expression.
func Matches(expr, pattern string) string {
	return fmt.Sprintf("(%s ~ %s)", expr, Literal(pattern))
}

func IsNumeric(expr string) string {
	return Matches(expr, common.NumericPattern)
}

// AsNumeric casts an expression already known to match NumericPattern.
func AsNumeric(expr string, abs bool) string {
	if abs {
		return fmt.Sprintf("abs((%s)::numeric)", expr)
	}
	return fmt.Sprintf("(%s)::numeric", expr)
}

// NumericOrZero coerces a text expression to numeric, mapping anything that
// does not parse to 0.
func NumericOrZero(expr string, abs bool) string {
	t := Trimmed(Stringified(expr))
	return fmt.Sprintf("(CASE WHEN %s THEN %s ELSE 0 END)", IsNumeric(t), AsNumeric(t, abs))
}

// PrefixOf keeps the first n characters of expr.
func PrefixOf(expr string, n int) string {
	return fmt.Sprintf("left(%s, %d)", expr, n)
}
