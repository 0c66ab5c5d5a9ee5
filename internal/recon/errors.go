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

package recon

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a rule set or dataset schema that cannot be
// reconciled. Missing columns are listed per side so the operator can fix
// them all at once.
type ConfigurationError struct {
	Msg           string
	MissingSource []string
	MissingTarget []string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if len(e.MissingSource) > 0 {
		fmt.Fprintf(&b, "; source is missing columns: %s", strings.Join(e.MissingSource, ", "))
	}
	if len(e.MissingTarget) > 0 {
		fmt.Fprintf(&b, "; target is missing columns: %s", strings.Join(e.MissingTarget, ", "))
	}
	return b.String()
}

func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// DuplicateKeyError is fatal: a key that appears more than once cannot be
// paired with the other side.
type DuplicateKeyError struct {
	Side   string
	Rows   int
	Sample []string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s dataset has %d rows with duplicate primary keys, e.g. %s",
		e.Side, e.Rows, strings.Join(e.Sample, ", "))
}

// DerivationError marks a derived field that cannot be computed. The field
// is skipped and the run continues.
type DerivationError struct {
	Field string
	Expr  string
	Err   error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derive field %s from %q: %v", e.Field, e.Expr, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}
