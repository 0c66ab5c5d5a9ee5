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

// Package rules holds the immutable rule model that drives a
// reconciliation: which fields are compared, how, and which form the key.
package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/internal/rules/derive"
)

type DataType string

const (
	Text    DataType = "text"
	Numeric DataType = "numeric"
	Date    DataType = "date"
)

// Precision truncates normalized dates to a prefix of this many characters.
// Zero compares the full value.
type Precision int

const (
	PrecisionNone   Precision = 0
	PrecisionYear   Precision = 4
	PrecisionMonth  Precision = 7
	PrecisionDay    Precision = 10
	PrecisionHour   Precision = 13
	PrecisionMinute Precision = 16
	PrecisionSecond Precision = 19
)

func (p Precision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	case PrecisionHour:
		return "hour"
	case PrecisionMinute:
		return "minute"
	case PrecisionSecond:
		return "second"
	}
	return "none"
}

type Tolerance struct {
	Delta     decimal.Decimal
	HasDelta  bool
	Precision Precision
}

func (t Tolerance) String() string {
	switch {
	case t.HasDelta:
		return "±" + t.Delta.String()
	case t.Precision != PrecisionNone:
		return t.Precision.String()
	}
	return "exact"
}

// FieldRule describes how one canonical field is compared.
type FieldRule struct {
	Field       string
	TargetField string
	Type        DataType
	Tolerance   Tolerance
	Primary     bool
	Derivation  string
	Override    Override
	// Absolute compares numeric values by magnitude.
	Absolute bool
	// Booleans, when set, accepts 是/否 style synonyms before Override runs.
	Booleans *Synonyms
	// Mapping translates source values before any comparison.
	Mapping *ValueMap

	// Program is set when Derivation compiled; DerivationErr otherwise.
	Program       *derive.Program
	DerivationErr error
}

func (r *FieldRule) Derived() bool {
	return strings.TrimSpace(r.Derivation) != ""
}

// SourceValue applies the field's mapping to a normalized source value.
func (r *FieldRule) SourceValue(v string) string {
	return r.Mapping.Translate(v)
}

func (r *FieldRule) OverrideKind() OverrideKind {
	if r.Override == nil {
		return OverrideNone
	}
	return r.Override.Kind()
}

func (r *FieldRule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <- ", r.Field)
	if r.Derived() {
		fmt.Fprintf(&b, "derive(%s)", r.Derivation)
	} else {
		b.WriteString(r.TargetField)
	}
	fmt.Fprintf(&b, " [%s, %s", r.Type, r.Tolerance)
	if r.Override != nil {
		fmt.Fprintf(&b, ", %s", r.Override.Kind())
	}
	if r.Absolute {
		b.WriteString(", abs")
	}
	if r.Mapping != nil {
		fmt.Fprintf(&b, ", mapped(%d)", r.Mapping.Len())
	}
	b.WriteString("]")
	return b.String()
}

// ColumnSet is anything that can answer whether it has a column.
type ColumnSet interface {
	HasColumn(name string) bool
}

// Model is read-only after construction and safe to share.
type Model struct {
	AbsMarker string
	fields    []*FieldRule
	index     map[string]*FieldRule
}

// NewModel validates fields and builds a model. Field order is preserved
// and defines primary key order.
func NewModel(absMarker string, fields []*FieldRule) (*Model, error) {
	if len(fields) == 0 {
		return nil, recon.Configf("rule set has no fields")
	}
	m := &Model{AbsMarker: absMarker, index: make(map[string]*FieldRule, len(fields))}
	hasPrimary := false
	for _, f := range fields {
		if strings.TrimSpace(f.Field) == "" {
			return nil, recon.Configf("rule with empty field name")
		}
		if _, dup := m.index[f.Field]; dup {
			return nil, recon.Configf("field %s is defined more than once", f.Field)
		}
		switch f.Type {
		case Text, Numeric, Date:
		default:
			return nil, recon.Configf("field %s: unknown data type %q", f.Field, f.Type)
		}
		if f.Tolerance.HasDelta && f.Type != Numeric {
			return nil, recon.Configf("field %s: numeric tolerance on a %s field", f.Field, f.Type)
		}
		if f.Tolerance.HasDelta && f.Tolerance.Delta.IsNegative() {
			return nil, recon.Configf("field %s: tolerance must not be negative", f.Field)
		}
		if f.Tolerance.Precision != PrecisionNone && f.Type != Date {
			return nil, recon.Configf("field %s: date precision on a %s field", f.Field, f.Type)
		}
		if f.Primary && f.Derived() {
			return nil, recon.Configf("field %s: primary key fields cannot be derived", f.Field)
		}
		if f.Primary && f.Mapping != nil {
			return nil, recon.Configf("field %s: primary key fields cannot be mapped", f.Field)
		}
		if !f.Derived() && strings.TrimSpace(f.TargetField) == "" {
			f.TargetField = f.Field
		}
		if err := validateOverride(f); err != nil {
			return nil, err
		}
		hasPrimary = hasPrimary || f.Primary
		m.fields = append(m.fields, f)
		m.index[f.Field] = f
	}
	if !hasPrimary {
		return nil, recon.Configf("rule set has no primary key field")
	}
	return m, nil
}

func validateOverride(f *FieldRule) error {
	switch o := f.Override.(type) {
	case nil:
	case HierarchicalPath:
		if o.SourceSeparator == "" || o.TargetSeparator == "" {
			return recon.Configf("field %s: hierarchical_path needs both separators", f.Field)
		}
	case CodeCombination:
		if o.Delimiter == "" {
			return recon.Configf("field %s: code_combination needs a delimiter", f.Field)
		}
	case CategoryPrefix:
		if o.Length <= 0 {
			return recon.Configf("field %s: category_prefix length must be positive", f.Field)
		}
	}
	return nil
}

// Fields returns every rule in declared order.
func (m *Model) Fields() []*FieldRule {
	return m.fields
}

func (m *Model) Field(name string) (*FieldRule, bool) {
	f, ok := m.index[name]
	return f, ok
}

// PrimaryKey returns the key fields in declared order.
func (m *Model) PrimaryKey() []*FieldRule {
	var out []*FieldRule
	for _, f := range m.fields {
		if f.Primary {
			out = append(out, f)
		}
	}
	return out
}

func (m *Model) SourceKeyColumns() []string {
	var out []string
	for _, f := range m.PrimaryKey() {
		out = append(out, f.Field)
	}
	return out
}

func (m *Model) TargetKeyColumns() []string {
	var out []string
	for _, f := range m.PrimaryKey() {
		out = append(out, f.TargetField)
	}
	return out
}

// Compared returns the non-key fields in declared order.
func (m *Model) Compared() []*FieldRule {
	var out []*FieldRule
	for _, f := range m.fields {
		if !f.Primary {
			out = append(out, f)
		}
	}
	return out
}

// TargetMapping maps each directly read target column to its canonical
// field name.
func (m *Model) TargetMapping() map[string]string {
	out := make(map[string]string)
	for _, f := range m.fields {
		if !f.Derived() {
			out[f.TargetField] = f.Field
		}
	}
	return out
}

// RequiredColumns lists the columns each side must have. Operand columns of
// derivations are not required; a missing operand skips that field.
func (m *Model) RequiredColumns() (source, target []string) {
	for _, f := range m.fields {
		source = append(source, f.Field)
		if !f.Derived() {
			target = append(target, f.TargetField)
		}
	}
	return source, target
}

// CheckColumns fails with a ConfigurationError listing every required
// column either dataset lacks.
func (m *Model) CheckColumns(src, tgt ColumnSet) error {
	reqSrc, reqTgt := m.RequiredColumns()
	var missSrc, missTgt []string
	for _, c := range reqSrc {
		if !src.HasColumn(c) {
			missSrc = append(missSrc, c)
		}
	}
	for _, c := range reqTgt {
		if !tgt.HasColumn(c) {
			missTgt = append(missTgt, c)
		}
	}
	if len(missSrc) > 0 || len(missTgt) > 0 {
		return &recon.ConfigurationError{
			Msg:           "required columns are missing",
			MissingSource: missSrc,
			MissingTarget: missTgt,
		}
	}
	return nil
}
