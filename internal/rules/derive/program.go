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

package derive

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/pkg/common"
)

type Mode int

const (
	// Text concatenates with "+" and slices characters.
	Text Mode = iota
	// Numeric evaluates decimal arithmetic over coerced column values.
	Numeric
)

func (m Mode) String() string {
	if m == Numeric {
		return "numeric"
	}
	return "text"
}

// Program is a parsed and validated derivation.
type Program struct {
	Source    string
	Mode      Mode
	Root      Node
	Columns   []string
	AbsMarker string
}

// Source is the column view a program reads from.
type Source interface {
	Column(name string) []any
	HasColumn(name string) bool
	Len() int
}

// Compile parses src and checks that it only uses operations valid in mode.
// Columns whose name contains absMarker are read as absolute values in
// numeric mode.
func Compile(src string, mode Mode, absMarker string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if mode == Text {
		if err := checkText(root); err != nil {
			return nil, err
		}
	}
	return &Program{
		Source:    src,
		Mode:      mode,
		Root:      root,
		Columns:   Columns(root),
		AbsMarker: absMarker,
	}, nil
}

func checkText(n Node) error {
	switch v := n.(type) {
	case *Unary:
		return fmt.Errorf("operator %q is not allowed in a text derivation", string(v.Op))
	case *Binary:
		if v.Op != '+' {
			return fmt.Errorf("operator %q is not allowed in a text derivation", string(v.Op))
		}
		if err := checkText(v.L); err != nil {
			return err
		}
		return checkText(v.R)
	case *Slice:
		return checkText(v.X)
	}
	return nil
}

// Missing lists referenced columns that src does not have.
func (p *Program) Missing(src interface{ HasColumn(string) bool }) []string {
	var missing []string
	for _, c := range p.Columns {
		if !src.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func (p *Program) absolute(n Node) bool {
	switch v := n.(type) {
	case *Ident:
		return common.ContainsMarker(v.Name, p.AbsMarker)
	case *Slice:
		return p.absolute(v.X)
	}
	return false
}

// Eval computes the derived column. Values are strings, or nil where a
// numeric result is undefined.
func (p *Program) Eval(src Source) ([]any, error) {
	if missing := p.Missing(src); len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	cols := make(map[string][]any, len(p.Columns))
	for _, c := range p.Columns {
		cols[c] = src.Column(c)
	}
	out := make([]any, src.Len())
	for i := range out {
		if p.Mode == Text {
			out[i] = p.text(p.Root, cols, i)
			continue
		}
		if d, ok := p.number(p.Root, cols, i); ok {
			out[i] = d.String()
		}
	}
	return out, nil
}

func (p *Program) text(n Node, cols map[string][]any, i int) string {
	switch v := n.(type) {
	case *Ident:
		return common.Stringify(cols[v.Name][i])
	case *Number:
		return v.Text
	case *String:
		return v.Value
	case *Binary:
		return p.text(v.L, cols, i) + p.text(v.R, cols, i)
	case *Slice:
		low, high := 0, -1
		if v.Low != nil {
			low = *v.Low
		}
		if v.High != nil {
			high = *v.High
		}
		return common.Substring(p.text(v.X, cols, i), low, high)
	case *Unary:
		return "-" + p.text(v.X, cols, i)
	}
	return ""
}

// DivisionScale is the number of decimal places a derived quotient is
// rounded to, half away from zero, by both backends.
const DivisionScale = 16

func coerce(s string, abs bool) decimal.Decimal {
	d, ok := common.ParseDecimal(common.Trim(s))
	if !ok {
		return decimal.Zero
	}
	if abs {
		return d.Abs()
	}
	return d
}

func (p *Program) number(n Node, cols map[string][]any, i int) (decimal.Decimal, bool) {
	switch v := n.(type) {
	case *Number:
		return v.Value, true
	case *Ident, *String, *Slice:
		return coerce(p.text(n, cols, i), p.absolute(n)), true
	case *Unary:
		x, ok := p.number(v.X, cols, i)
		return x.Neg(), ok
	case *Binary:
		l, lok := p.number(v.L, cols, i)
		r, rok := p.number(v.R, cols, i)
		if !lok || !rok {
			return decimal.Zero, false
		}
		switch v.Op {
		case '+':
			return l.Add(r), true
		case '-':
			return l.Sub(r), true
		case '*':
			return l.Mul(r), true
		case '/':
			if r.IsZero() {
				return decimal.Zero, false
			}
			return l.DivRound(r, DivisionScale), true
		}
	}
	return decimal.Zero, false
}

// SQL renders the program as a PostgreSQL expression of type text. ref maps
// a column name to a SQL reference to its staged text column.
func (p *Program) SQL(ref func(name string) (string, error)) (string, error) {
	if p.Mode == Text {
		return p.textSQL(p.Root, ref)
	}
	expr, err := p.numberSQL(p.Root, ref)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s)::text", expr), nil
}

func (p *Program) textSQL(n Node, ref func(string) (string, error)) (string, error) {
	switch v := n.(type) {
	case *Ident:
		r, err := ref(v.Name)
		if err != nil {
			return "", err
		}
		return queries.Stringified(r), nil
	case *Number:
		return queries.Literal(v.Text), nil
	case *String:
		return queries.Literal(v.Value), nil
	case *Binary:
		l, err := p.textSQL(v.L, ref)
		if err != nil {
			return "", err
		}
		r, err := p.textSQL(v.R, ref)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s || %s)", l, r), nil
	case *Slice:
		x, err := p.textSQL(v.X, ref)
		if err != nil {
			return "", err
		}
		switch {
		case v.Low != nil && v.High != nil:
			return fmt.Sprintf("substr(%s, %d, %d)", x, *v.Low+1, *v.High-*v.Low), nil
		case v.Low != nil:
			return fmt.Sprintf("substr(%s, %d)", x, *v.Low+1), nil
		case v.High != nil:
			return queries.PrefixOf(x, *v.High), nil
		}
		return x, nil
	case *Unary:
		x, err := p.textSQL(v.X, ref)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("('-' || %s)", x), nil
	}
	return "", fmt.Errorf("unsupported expression node %T", n)
}

func (p *Program) numberSQL(n Node, ref func(string) (string, error)) (string, error) {
	switch v := n.(type) {
	case *Number:
		return queries.Literal(v.Text) + "::numeric", nil
	case *Ident, *String, *Slice:
		t, err := p.textSQL(n, ref)
		if err != nil {
			return "", err
		}
		return queries.NumericOrZero(t, p.absolute(n)), nil
	case *Unary:
		x, err := p.numberSQL(v.X, ref)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(-%s)", x), nil
	case *Binary:
		l, err := p.numberSQL(v.L, ref)
		if err != nil {
			return "", err
		}
		r, err := p.numberSQL(v.R, ref)
		if err != nil {
			return "", err
		}
		if v.Op == '/' {
			// The zero-valued addend lifts the dividend's scale so the
			// division is carried out to at least DivisionScale places.
			return fmt.Sprintf("round((%s + 0.%s) / NULLIF(%s, 0), %d)",
				l, strings.Repeat("0", DivisionScale), r, DivisionScale), nil
		}
		return fmt.Sprintf("(%s %c %s)", l, v.Op, r), nil
	}
	return "", fmt.Errorf("unsupported expression node %T", n)
}
