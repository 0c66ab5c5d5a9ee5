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

// Package pushdown runs a reconciliation inside PostgreSQL. Both datasets
// are staged as tables, keys are computed and joined there, and every
// field rule is compiled into a single mismatch predicate. Results have
// the same shape and semantics as the in-memory engine.
package pushdown

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/compare"
	"github.com/pgedge/recon/internal/equiv"
	"github.com/pgedge/recon/internal/keys"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

const EnginePushdown = "pushdown"

type Pushdown struct {
	Store           Store
	Schema          string
	InsertBatchSize int
	// Prefix names the staging tables. A unique prefix is generated per
	// run when empty.
	Prefix string
}

func (Pushdown) Name() string { return EnginePushdown }

func (p Pushdown) Compare(ctx context.Context, in compare.Input, rep recon.Reporter) (*types.Result, error) {
	plan, err := compare.Prepare(in, rep)
	if err != nil {
		return nil, err
	}
	if p.Store == nil {
		return nil, recon.Configf("pushdown engine has no store configured")
	}
	if len(plan.SourceKey) == 0 || len(plan.SourceKey) != len(plan.TargetKey) {
		return nil, recon.Configf("primary key needs the same non-zero number of columns on both sides, got %d and %d",
			len(plan.SourceKey), len(plan.TargetKey))
	}
	schema := p.Schema
	if schema == "" {
		schema = "public"
	}
	if err := queries.SanitiseIdentifier(schema); err != nil {
		return nil, recon.Configf("staging schema: %v", err)
	}
	rep.Progress(5)

	s := &session{store: p.Store, schema: schema, prefix: p.prefix(), batch: p.InsertBatchSize}
	if s.batch <= 0 {
		s.batch = DefaultInsertBatchSize
	}
	defer func() {
		if cerr := s.cleanup(); cerr != nil {
			rep.Logf(recon.LevelWarn, "%v", cerr)
		}
	}()

	r := &run{session: s, in: in, plan: plan, rep: rep}
	if err := r.stage(ctx); err != nil {
		return nil, err
	}
	rep.Progress(30)
	if err := r.checkKeys(ctx); err != nil {
		return nil, err
	}
	if err := r.prepareFields(ctx); err != nil {
		return nil, err
	}
	rep.Progress(45)
	if err := r.keySets(ctx); err != nil {
		return nil, err
	}
	rep.Progress(60)
	diffs, err := r.mismatches(ctx)
	if err != nil {
		return nil, err
	}
	rep.Progress(95)
	return compare.BuildResult(EnginePushdown, plan, in, r.common, r.missing, r.extra,
		diffs, r.emptySource, r.emptyTarget), nil
}

func (p Pushdown) prefix() string {
	if p.Prefix != "" {
		return p.Prefix
	}
	return "recon_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// run carries the state of one pushdown comparison.
type run struct {
	*session
	in   compare.Input
	plan *compare.Plan
	rep  recon.Reporter

	src, tgt *stagedTable
	fields   []fieldSQL

	common, missing, extra   []types.KeyRef
	emptySource, emptyTarget int
}

// fieldSQL is a planned field with its staged operands.
type fieldSQL struct {
	plan    compare.FieldPlan
	source  string
	mapped  bool
	target  string
	dateSrc string
	dateTgt string
	lookup  string
}

func (r *run) stage(ctx context.Context) error {
	srcCols := unique(r.plan.SourceKey)
	tgtCols := unique(r.plan.TargetKey)
	for _, fp := range r.plan.Fields {
		srcCols = appendUnique(srcCols, fp.SourceColumn)
		if fp.Derived() {
			for _, c := range fp.Rule.Program.Columns {
				tgtCols = appendUnique(tgtCols, c)
			}
			continue
		}
		tgtCols = appendUnique(tgtCols, fp.TargetColumn)
	}

	var err error
	if r.src, err = r.session.stage(ctx, "src", r.in.Source, srcCols); err != nil {
		return err
	}
	r.rep.Progress(15)
	if r.tgt, err = r.session.stage(ctx, "tgt", r.in.Target, tgtCols); err != nil {
		return err
	}
	r.rep.Progress(25)
	if err := r.addKey(ctx, r.src, r.plan.SourceKey); err != nil {
		return err
	}
	return r.addKey(ctx, r.tgt, r.plan.TargetKey)
}

func (r *run) checkKeys(ctx context.Context) error {
	var err error
	if r.emptySource, err = r.scanKeys(ctx, keys.SideSource, r.src, r.plan.SourceKey); err != nil {
		return err
	}
	r.emptyTarget, err = r.scanKeys(ctx, keys.SideTarget, r.tgt, r.plan.TargetKey)
	return err
}

// scanKeys counts rows with an empty key component and fails on duplicate
// keys, reporting them in first-occurrence order.
func (r *run) scanKeys(ctx context.Context, side string, t *stagedTable, columns []string) (int, error) {
	pred, err := emptyKeyPredicate(t, columns)
	if err != nil {
		return 0, err
	}
	sql, err := queries.CountEmptyKeysSQL(r.schema, t.name, pred)
	if err != nil {
		return 0, err
	}
	var empty int
	if err := r.store.Query(ctx, sql, func(v []any) error {
		empty = asInt(v[0])
		return nil
	}); err != nil {
		return 0, fmt.Errorf("count empty %s keys: %w", side, err)
	}

	sql, err = queries.DuplicateKeysSQL(r.schema, t.name, keyColumn, ordinalColumn)
	if err != nil {
		return 0, err
	}
	var dup *recon.DuplicateKeyError
	if err := r.store.Query(ctx, sql, func(v []any) error {
		if dup == nil {
			dup = &recon.DuplicateKeyError{Side: side}
		}
		dup.Rows += asInt(v[1])
		if len(dup.Sample) < r.sample() {
			dup.Sample = append(dup.Sample, asString(v[0]))
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("check %s duplicate keys: %w", side, err)
	}
	if dup != nil {
		return 0, dup
	}
	return empty, nil
}

func (r *run) sample() int {
	if r.in.DuplicateSample <= 0 {
		return compare.DefaultDuplicateSample
	}
	return r.in.DuplicateSample
}

// prepareFields computes derived and date columns, stages lookup tables
// and resolves the operands of every field. A derivation the store cannot
// evaluate drops its field like any other derivation failure.
func (r *run) prepareFields(ctx context.Context) error {
	for i, fp := range append([]compare.FieldPlan(nil), r.plan.Fields...) {
		f := fieldSQL{plan: fp, source: fp.SourceColumn}
		if fp.Rule.Mapping != nil {
			if err := r.addMapped(ctx, i, fp); err != nil {
				return err
			}
			f.source, f.mapped = mappedKey(fp.Rule.Field), true
		}
		if fp.Derived() {
			column := fmt.Sprintf("d%d", i)
			expr, err := fp.Rule.Program.SQL(func(name string) (string, error) {
				return r.tgt.ref("", name)
			})
			if err == nil {
				err = r.addColumn(ctx, r.tgt, column, expr)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				compare.ReportDerivationError(r.rep, &recon.DerivationError{Field: fp.Rule.Field, Expr: fp.Rule.Derivation, Err: err})
				r.plan.Skip(fp.Rule.Field)
				continue
			}
			r.tgt.columns[derivedKey(fp.Rule.Field)] = column
			f.target = derivedKey(fp.Rule.Field)
		} else {
			f.target = fp.TargetColumn
		}

		if fp.Rule.Type == rules.Date {
			f.dateSrc, f.dateTgt = fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i)
			srcRef, err := r.src.ref("", f.source)
			if err != nil {
				return err
			}
			tgtRef, err := r.tgt.ref("", f.target)
			if err != nil {
				return err
			}
			if err := r.addDateColumn(ctx, r.src, f.dateSrc, srcRef); err != nil {
				return err
			}
			if err := r.addDateColumn(ctx, r.tgt, f.dateTgt, tgtRef); err != nil {
				return err
			}
		}

		switch fp.Rule.Override.(type) {
		case rules.Enumeration, rules.CodeCombination:
			name, err := r.stageLookup(ctx, fmt.Sprintf("lk%d", i), fp.Rule.Override)
			if err != nil {
				return err
			}
			f.lookup = name
		}
		r.fields = append(r.fields, f)
	}
	return nil
}

// addMapped stages the field's value map and a source column holding the
// mapped value.
func (r *run) addMapped(ctx context.Context, i int, fp compare.FieldPlan) error {
	table, err := r.stageEntries(ctx, fmt.Sprintf("mp%d", i), fp.Rule.Mapping.Entries())
	if err != nil {
		return err
	}
	ref, err := r.src.ref("", fp.SourceColumn)
	if err != nil {
		return err
	}
	column := fmt.Sprintf("m%d", i)
	v := queries.Normalized(ref)
	expr := fmt.Sprintf("COALESCE((SELECT m.code FROM %s m WHERE m.name = %s), %s)", queries.Ident(r.schema, table), v, v)
	if err := r.addColumn(ctx, r.src, column, expr); err != nil {
		return err
	}
	r.src.columns[mappedKey(fp.Rule.Field)] = column
	return nil
}

// mappedKey is the staged-column lookup name of a mapped source value.
func mappedKey(field string) string {
	return "\x00mapped:" + field
}

// derivedKey is the staged-column lookup name of a derived target value.
// It cannot collide with a dataset column because of the leading NUL.
func derivedKey(field string) string {
	return "\x00derived:" + field
}

func (r *run) keySets(ctx context.Context) error {
	sql, err := queries.MissingKeysSQL(r.schema, r.src.name, r.tgt.name, keyColumn, ordinalColumn)
	if err != nil {
		return err
	}
	if err := r.store.Query(ctx, sql, func(v []any) error {
		r.missing = append(r.missing, types.KeyRef{Key: asString(v[0]), SourceRow: asInt(v[1]), TargetRow: -1})
		return nil
	}); err != nil {
		return fmt.Errorf("query missing keys: %w", err)
	}

	sql, err = queries.MissingKeysSQL(r.schema, r.tgt.name, r.src.name, keyColumn, ordinalColumn)
	if err != nil {
		return err
	}
	if err := r.store.Query(ctx, sql, func(v []any) error {
		r.extra = append(r.extra, types.KeyRef{Key: asString(v[0]), SourceRow: -1, TargetRow: asInt(v[1])})
		return nil
	}); err != nil {
		return fmt.Errorf("query extra keys: %w", err)
	}

	sql, err = queries.CommonKeysSQL(r.schema, r.src.name, r.tgt.name, keyColumn, ordinalColumn)
	if err != nil {
		return err
	}
	if err := r.store.Query(ctx, sql, func(v []any) error {
		r.common = append(r.common, types.KeyRef{Key: asString(v[0]), SourceRow: asInt(v[1]), TargetRow: asInt(v[2])})
		return nil
	}); err != nil {
		return fmt.Errorf("query common keys: %w", err)
	}
	compare.ReportKeySets(r.rep, len(r.common), len(r.missing), len(r.extra), r.emptySource, r.emptyTarget)
	return nil
}

// mismatches selects every common row failing at least one field
// predicate. Each row carries one flag and the target value per field.
func (r *run) mismatches(ctx context.Context) ([]types.DiffEntry, error) {
	c := compiler{schema: r.schema, lookups: make(map[string]string)}
	var (
		fields     []fieldSQL
		columns    []string
		predicates []string
	)
	for _, f := range r.fields {
		if f.lookup != "" {
			c.lookups[f.plan.Rule.Field] = f.lookup
		}
		srcRef, err := r.src.ref("s", f.source)
		if err != nil {
			return nil, err
		}
		tgtRef, err := r.tgt.ref("t", f.target)
		if err != nil {
			return nil, err
		}
		op := operands{A: queries.Normalized(srcRef), B: queries.Normalized(tgtRef)}
		if f.mapped {
			rawRef, err := r.src.ref("s", f.plan.SourceColumn)
			if err != nil {
				return nil, err
			}
			op.Raw = queries.Normalized(rawRef)
		}
		if f.dateSrc != "" {
			op.DateA = "s." + queries.Ident(f.dateSrc)
			op.DateB = "t." + queries.Ident(f.dateTgt)
		}
		pred, err := c.mismatch(f.plan.Rule, op)
		if err != nil {
			r.rep.Logf(recon.LevelWarn, "field %s cannot be compared in the store: %v; field is skipped", f.plan.Rule.Field, err)
			r.plan.Skip(f.plan.Rule.Field)
			continue
		}
		fields = append(fields, f)
		predicates = append(predicates, pred)
		columns = append(columns, "("+pred+")", tgtRef)
	}
	if len(predicates) == 0 || len(r.common) == 0 {
		return nil, nil
	}

	sql, err := queries.MismatchedRowsSQL(r.schema, r.src.name, r.tgt.name, keyColumn, ordinalColumn, columns, predicates)
	if err != nil {
		return nil, err
	}
	var diffs []types.DiffEntry
	err = r.store.Query(ctx, sql, func(v []any) error {
		if len(v) != 3+2*len(fields) {
			return fmt.Errorf("mismatch row has %d columns, want %d", len(v), 3+2*len(fields))
		}
		diffs = append(diffs, r.detail(asString(v[0]), asInt(v[1]), asInt(v[2]), fields, v[3:]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query mismatched rows: %w", err)
	}
	return diffs, nil
}

// detail rebuilds the per-field view of one mismatched row. Membership was
// decided by the store; the evaluator only picks the fields to show and
// falls back to the store's flags when it disagrees.
func (r *run) detail(key string, srow, trow int, fields []fieldSQL, vals []any) types.DiffEntry {
	entry := types.DiffEntry{
		Key:    key,
		Source: r.in.Source.Row(srow),
		Target: r.in.Target.Row(trow),
	}
	var flagged []types.FieldDiff
	for i, f := range fields {
		src := r.in.Source.Value(srow, f.plan.SourceColumn)
		tgt := vals[2*i+1]
		if !f.plan.Derived() {
			tgt = r.in.Target.Value(trow, f.plan.TargetColumn)
		}
		d := types.FieldDiff{Field: f.plan.Rule.Field, SourceValue: src, TargetValue: tgt}
		if asBool(vals[2*i]) {
			flagged = append(flagged, d)
		}
		if !equiv.Equal(src, tgt, f.plan.Rule) {
			entry.Fields = append(entry.Fields, d)
		}
	}
	if len(entry.Fields) == 0 {
		logger.Debug("key %s: store flagged %d fields the evaluator accepts", keys.Display(key), len(flagged))
		entry.Fields = flagged
	}
	return entry
}

func unique(cols []string) []string {
	var out []string
	for _, c := range cols {
		out = appendUnique(out, c)
	}
	return out
}

func appendUnique(cols []string, c string) []string {
	for _, have := range cols {
		if have == c {
			return cols
		}
	}
	return append(cols, c)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	}
	return -1
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
