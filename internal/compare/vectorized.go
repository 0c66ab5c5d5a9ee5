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
	"time"

	"github.com/pgedge/recon/internal/equiv"
	"github.com/pgedge/recon/internal/keys"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/types"
)

const EngineVectorized = "vectorized"

// Vectorized compares in memory, one batch of common keys at a time.
// Batches run sequentially and share no state, so the batch size bounds
// memory without changing the result.
type Vectorized struct{}

func (Vectorized) Name() string { return EngineVectorized }

func (v Vectorized) Compare(ctx context.Context, in Input, rep recon.Reporter) (*types.Result, error) {
	plan, err := Prepare(in, rep)
	if err != nil {
		return nil, err
	}
	rep.Progress(5)

	res, err := keys.Resolve(in.Source, in.Target, plan.SourceKey, plan.TargetKey, in.sample())
	if err != nil {
		return nil, err
	}
	ReportKeySets(rep, len(res.Common), len(res.Missing), len(res.Extra), res.Source.Empty, res.Target.Empty)
	rep.Progress(15)

	targetCols := make(map[string][]any, len(plan.Fields))
	for _, fp := range append([]FieldPlan(nil), plan.Fields...) {
		if !fp.Derived() {
			targetCols[fp.Rule.Field] = in.Target.Column(fp.TargetColumn)
			continue
		}
		col, err := fp.Rule.Program.Eval(in.Target)
		if err != nil {
			ReportDerivationError(rep, &recon.DerivationError{Field: fp.Rule.Field, Expr: fp.Rule.Derivation, Err: err})
			plan.Skip(fp.Rule.Field)
			continue
		}
		targetCols[fp.Rule.Field] = col
	}
	rep.Progress(20)

	diffs, err := v.compareBatches(ctx, in, plan, res, targetCols, rep)
	if err != nil {
		return nil, err
	}
	return BuildResult(EngineVectorized, plan, in, res.Common, res.Missing, res.Extra,
		diffs, res.Source.Empty, res.Target.Empty), nil
}

func (v Vectorized) compareBatches(ctx context.Context, in Input, plan *Plan, res *keys.Resolution,
	targetCols map[string][]any, rep recon.Reporter) ([]types.DiffEntry, error) {
	var diffs []types.DiffEntry
	total := len(res.Common)
	size := in.batchSize()
	batches := (total + size - 1) / size
	srcVals := make([]any, 0, size)
	tgtVals := make([]any, 0, size)

	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		lo, hi := b*size, min((b+1)*size, total)
		batch := res.Common[lo:hi]
		mismatched := make([][]int, len(batch))

		for fi, fp := range plan.Fields {
			srcCol := in.Source.Column(fp.SourceColumn)
			tgtCol := targetCols[fp.Rule.Field]
			srcVals, tgtVals = srcVals[:0], tgtVals[:0]
			for _, ref := range batch {
				srcVals = append(srcVals, srcCol[ref.SourceRow])
				tgtVals = append(tgtVals, tgtCol[ref.TargetRow])
			}
			for j, bad := range equiv.MismatchMask(fp.Rule, srcVals, tgtVals) {
				if bad {
					mismatched[j] = append(mismatched[j], fi)
				}
			}
		}

		found := 0
		for j, fields := range mismatched {
			if len(fields) == 0 {
				continue
			}
			ref := batch[j]
			entry := types.DiffEntry{
				Key:    ref.Key,
				Source: keys.Snapshot(in.Source, res.Source, ref.Key, ref.SourceRow),
				Target: keys.Snapshot(in.Target, res.Target, ref.Key, ref.TargetRow),
			}
			for _, fi := range fields {
				fp := plan.Fields[fi]
				entry.Fields = append(entry.Fields, types.FieldDiff{
					Field:       fp.Rule.Field,
					SourceValue: in.Source.Column(fp.SourceColumn)[ref.SourceRow],
					TargetValue: targetCols[fp.Rule.Field][ref.TargetRow],
				})
			}
			diffs = append(diffs, entry)
			found++
		}

		rep.Logf(recon.LevelDebug, "batch %d/%d: %d keys, %d mismatched, %s",
			b+1, batches, len(batch), found, time.Since(started).Round(time.Millisecond))
		rep.Progress(20 + 75*hi/max(total, 1))
	}
	return diffs, nil
}
