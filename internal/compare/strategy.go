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

package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/types"
)

const (
	DefaultBatchSize       = 10000
	DefaultDuplicateSample = 5
)

type Input struct {
	Rules           *rules.Model
	Source          *types.Dataset
	Target          *types.Dataset
	BatchSize       int
	DuplicateSample int
}

func (in Input) batchSize() int {
	if in.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return in.BatchSize
}

func (in Input) sample() int {
	if in.DuplicateSample <= 0 {
		return DefaultDuplicateSample
	}
	return in.DuplicateSample
}

// Strategy is one way of executing a reconciliation. Every implementation
// must produce the same key sets and mismatch counts for the same input.
type Strategy interface {
	Name() string
	Compare(ctx context.Context, in Input, rep recon.Reporter) (*types.Result, error)
}

// FieldPlan is a compared field whose target value can be obtained.
// TargetColumn is empty for derived fields.
type FieldPlan struct {
	Rule         *rules.FieldRule
	SourceColumn string
	TargetColumn string
}

func (fp FieldPlan) Derived() bool {
	return fp.TargetColumn == ""
}

type Plan struct {
	Fields    []FieldPlan
	Skipped   []string
	SourceKey []string
	TargetKey []string
}

// Skip removes field from the plan after a late derivation failure.
func (p *Plan) Skip(field string) {
	kept := p.Fields[:0]
	for _, fp := range p.Fields {
		if fp.Rule.Field != field {
			kept = append(kept, fp)
		}
	}
	p.Fields = kept
	p.Skipped = append(p.Skipped, field)
}

// Prepare validates the input and decides which fields are compared. It
// fails with a ConfigurationError before any comparison work starts.
// Derived fields that cannot be computed are reported and skipped.
func Prepare(in Input, rep recon.Reporter) (*Plan, error) {
	if in.Rules == nil {
		return nil, recon.Configf("no rule set loaded")
	}
	if in.Source == nil || in.Source.Len() == 0 {
		return nil, recon.Configf("source dataset has no data rows")
	}
	if in.Target == nil || in.Target.Len() == 0 {
		return nil, recon.Configf("target dataset has no data rows")
	}
	if err := in.Rules.CheckColumns(in.Source, in.Target); err != nil {
		return nil, err
	}

	mapping := in.Rules.TargetMapping()
	targets := make([]string, 0, len(mapping))
	for t := range mapping {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		if t != mapping[t] {
			rep.Logf(recon.LevelInfo, "field mapping: %s -> %s", t, mapping[t])
		}
	}

	if in.Source.Len() != in.Target.Len() {
		rep.Logf(recon.LevelWarn, "datasets have different row counts: source %d, target %d",
			in.Source.Len(), in.Target.Len())
	}

	plan := &Plan{
		SourceKey: in.Rules.SourceKeyColumns(),
		TargetKey: in.Rules.TargetKeyColumns(),
	}
	for _, r := range in.Rules.Compared() {
		if !r.Derived() {
			plan.Fields = append(plan.Fields, FieldPlan{Rule: r, SourceColumn: r.Field, TargetColumn: r.TargetField})
			continue
		}
		var derr error
		switch {
		case r.DerivationErr != nil:
			derr = r.DerivationErr
		case r.Program == nil:
			derr = errors.New("derivation was not compiled")
		default:
			if missing := r.Program.Missing(in.Target); len(missing) > 0 {
				derr = fmt.Errorf("missing operand columns: %s", strings.Join(missing, ", "))
			}
		}
		if derr != nil {
			ReportDerivationError(rep, &recon.DerivationError{Field: r.Field, Expr: r.Derivation, Err: derr})
			plan.Skipped = append(plan.Skipped, r.Field)
			continue
		}
		plan.Fields = append(plan.Fields, FieldPlan{Rule: r, SourceColumn: r.Field})
	}
	if len(plan.Fields) == 0 {
		rep.Logf(recon.LevelWarn, "no fields left to compare; only key sets will be reconciled")
	}
	return plan, nil
}

func ReportDerivationError(rep recon.Reporter, err *recon.DerivationError) {
	rep.Logf(recon.LevelWarn, "%v; field %s is skipped", err, err.Field)
}

// BuildResult assembles the result and its summary from key sets and diff
// entries.
func BuildResult(engine string, plan *Plan, in Input, common, missing, extra []types.KeyRef,
	diffs []types.DiffEntry, emptySource, emptyTarget int) *types.Result {
	s := types.Summary{
		PrimaryKey:     append([]string(nil), plan.SourceKey...),
		TotalSource:    in.Source.Len(),
		TotalTarget:    in.Target.Len(),
		Missing:        len(missing),
		Extra:          len(extra),
		Common:         len(common),
		Mismatched:     len(diffs),
		EmptyKeySource: emptySource,
		EmptyKeyTarget: emptyTarget,
		SkippedFields:  append([]string(nil), plan.Skipped...),
	}
	annotateMapped(in.Rules, diffs)
	s.Matched = s.Common - s.Mismatched
	if s.Common > 0 {
		s.MismatchRatio = float64(s.Mismatched) / float64(s.Common)
	}
	return &types.Result{
		Engine:  engine,
		Summary: s,
		Missing: missing,
		Extra:   extra,
		Common:  common,
		Diffs:   diffs,
	}
}

// annotateMapped adds the translated code and the mapped-back name to the
// field diffs of mapped fields.
func annotateMapped(m *rules.Model, diffs []types.DiffEntry) {
	if m == nil {
		return
	}
	for i := range diffs {
		for j := range diffs[i].Fields {
			f := &diffs[i].Fields[j]
			r, ok := m.Field(f.Field)
			if !ok || r.Mapping == nil {
				continue
			}
			src := common.Normalize(f.SourceValue)
			if code := r.Mapping.Translate(src); code != src {
				f.SourceCode = code
			}
			if name, ok := r.Mapping.Name(common.Normalize(f.TargetValue)); ok {
				f.TargetName = name
			}
		}
	}
}

// ReportKeySets logs the key set sizes and empty key warnings.
func ReportKeySets(rep recon.Reporter, common, missing, extra, emptySource, emptyTarget int) {
	if emptySource > 0 {
		rep.Logf(recon.LevelWarn, "source has %d rows with an empty primary key component", emptySource)
	}
	if emptyTarget > 0 {
		rep.Logf(recon.LevelWarn, "target has %d rows with an empty primary key component", emptyTarget)
	}
	rep.Logf(recon.LevelInfo, "keys: %d common, %d missing in target, %d extra in target", common, missing, extra)
}
