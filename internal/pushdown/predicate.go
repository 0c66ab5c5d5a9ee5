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

package pushdown

import (
	"fmt"
	"strings"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/equiv"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/common"
)

// operands are the SQL expressions a field predicate compares. A and B
// hold normalized text. Raw is the unmapped source value of a mapped field.
// DateA and DateB hold the staged date-normalized values and are only set
// for date fields.
type operands struct {
	A, B         string
	Raw          string
	DateA, DateB string
}

// compiler turns field rules into PostgreSQL boolean expressions that
// agree with equiv.EqualNormalized.
type compiler struct {
	schema  string
	lookups map[string]string
}

// mismatch is true exactly when the pair is not equivalent.
func (c compiler) mismatch(r *rules.FieldRule, op operands) (string, error) {
	eq, err := c.equal(r, op)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("NOT COALESCE(%s, false)", eq), nil
}

func (c compiler) equal(r *rules.FieldRule, op operands) (string, error) {
	terms := []string{fmt.Sprintf("%s = %s", op.A, op.B)}
	if op.Raw != "" {
		terms = append(terms, fmt.Sprintf("%s = %s", op.Raw, op.B))
	}
	if r.Booleans != nil {
		terms = append(terms, synonymsIn(op, r.Booleans.Pairs()))
	}
	if r.Override != nil {
		o, err := c.override(r, op)
		if err != nil {
			return "", err
		}
		terms = append(terms, o)
		if r.Override.Decisive() {
			return "(" + strings.Join(terms, " OR ") + ")", nil
		}
	}
	if t := typeEqual(r, op); t != "" {
		terms = append(terms, t)
	}
	return "(" + strings.Join(terms, " OR ") + ")", nil
}

func (c compiler) override(r *rules.FieldRule, op operands) (string, error) {
	switch o := r.Override.(type) {
	case rules.HierarchicalPath:
		return fmt.Sprintf("%s = %s", lastSegment(op.A, o.SourceSeparator), lastSegment(op.B, o.TargetSeparator)), nil
	case rules.CodeCombination:
		table, err := c.lookup(r.Field)
		if err != nil {
			return "", err
		}
		code := queries.Trimmed("x.code")
		parts := fmt.Sprintf("unnest(string_to_array(%s, %s)) AS x(code)", op.B, queries.Literal(o.Delimiter))
		return fmt.Sprintf(
			"(EXISTS (SELECT 1 FROM %[1]s WHERE %[2]s <> '') AND NOT EXISTS (SELECT 1 FROM %[1]s WHERE %[2]s <> '' "+
				"AND NOT EXISTS (SELECT 1 FROM %[3]s c WHERE c.source_code = %[4]s AND c.target_code = %[2]s)))",
			parts, code, table, op.A), nil
	case rules.Enumeration:
		table, err := c.lookup(r.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE((SELECT e.code FROM %s e WHERE e.name = %s), %s) = %s", table, op.A, op.A, op.B), nil
	case rules.Synonyms:
		return synonymsIn(op, o.Pairs()), nil
	case rules.CategoryPrefix:
		return fmt.Sprintf("%s = %s", reducePrefix(op.A, o.Length), reducePrefix(op.B, o.Length)), nil
	}
	return "", fmt.Errorf("override %s has no SQL form", r.Override.Kind())
}

func synonymsIn(op operands, pairs [][2]string) string {
	if len(pairs) == 0 {
		return "false"
	}
	values := make([]string, len(pairs))
	for i, p := range pairs {
		values[i] = fmt.Sprintf("(%s, %s)", queries.Literal(p[0]), queries.Literal(p[1]))
	}
	return fmt.Sprintf("(%s, %s) IN (VALUES %s)", op.A, op.B, strings.Join(values, ", "))
}

func (c compiler) lookup(field string) (string, error) {
	table, ok := c.lookups[field]
	if !ok {
		return "", fmt.Errorf("no lookup table staged for field %s", field)
	}
	return queries.Ident(c.schema, table), nil
}

// typeEqual returns the type rule, or "" when the type adds nothing beyond
// string identity.
func typeEqual(r *rules.FieldRule, op operands) string {
	switch r.Type {
	case rules.Numeric:
		x := queries.AsNumeric(op.A, r.Absolute)
		y := queries.AsNumeric(op.B, r.Absolute)
		cmp := fmt.Sprintf("%s = %s", x, y)
		if r.Tolerance.HasDelta {
			cmp = fmt.Sprintf("abs(%s - %s) <= %s::numeric", x, y, queries.Literal(r.Tolerance.Delta.String()))
		}
		return fmt.Sprintf("(CASE WHEN %s AND %s THEN %s ELSE false END)",
			queries.IsNumeric(op.A), queries.IsNumeric(op.B), cmp)
	case rules.Date:
		return fmt.Sprintf("%s = %s", truncate(op.DateA, r.Tolerance.Precision), truncate(op.DateB, r.Tolerance.Precision))
	}
	return ""
}

func truncate(expr string, p rules.Precision) string {
	if p == rules.PrecisionNone {
		return expr
	}
	return queries.PrefixOf(expr, int(p))
}

func lastSegment(expr, sep string) string {
	rev := queries.Literal(reverse(sep))
	return queries.Trimmed(fmt.Sprintf("reverse(split_part(reverse(%s), %s, 1))", expr, rev))
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func reducePrefix(expr string, n int) string {
	return fmt.Sprintf("(CASE WHEN %s THEN %s ELSE %s END)",
		queries.Matches(expr, common.DigitsPattern), queries.PrefixOf(expr, n), expr)
}

// normalizeDate is the SQL form of equiv.NormalizeDate for a column that
// already holds normalized text.
func normalizeDate(col string) string {
	tries := make([]string, 0, len(equiv.DateLayouts)+1)
	for _, l := range equiv.DateLayouts {
		tries = append(tries, tryLayout(col, l))
	}
	tries = append(tries, col)
	return "COALESCE(" + strings.Join(tries, ", ") + ")"
}

func tryLayout(col string, l equiv.DateLayout) string {
	pattern := queries.Literal(l.Pattern)
	group := func(i int) string {
		return fmt.Sprintf("((regexp_match(%s, %s))[%d])::int", col, pattern, i)
	}
	y, m, d := group(l.Year), group(l.Month), group(l.Day)
	checks := []string{
		y + " >= 1",
		fmt.Sprintf("%s BETWEEN 1 AND 12", m),
		d + " >= 1",
		fmt.Sprintf("%s <= %s", d, daysIn(y, m)),
	}
	if l.Hour != 0 {
		checks = append(checks, group(l.Hour)+" <= 23", group(l.Minute)+" <= 59", group(l.Second)+" <= 59")
	}
	format := fmt.Sprintf("lpad((%s)::text, 4, '0') || '-' || lpad((%s)::text, 2, '0') || '-' || lpad((%s)::text, 2, '0')", y, m, d)
	return fmt.Sprintf("(CASE WHEN %s THEN (CASE WHEN %s THEN %s END) END)",
		queries.Matches(col, l.Pattern), strings.Join(checks, " AND "), format)
}

func daysIn(y, m string) string {
	return fmt.Sprintf("(CASE WHEN %[2]s IN (1, 3, 5, 7, 8, 10, 12) THEN 31 WHEN %[2]s IN (4, 6, 9, 11) THEN 30 "+
		"WHEN %[2]s = 2 THEN (CASE WHEN (%[1]s %% 4 = 0 AND %[1]s %% 100 <> 0) OR %[1]s %% 400 = 0 THEN 29 ELSE 28 END) "+
		"ELSE 0 END)", y, m)
}
