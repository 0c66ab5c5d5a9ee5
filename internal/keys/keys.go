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

// Package keys builds composite reconciliation keys and splits two
// datasets into common, missing and extra key sets.
package keys

import (
	"strings"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/types"
)

// Delimiter joins key components. The pushdown engine builds the same
// string in SQL.
const Delimiter = "||"

// Escape prefixes every backslash and pipe inside a component so that
// distinct component tuples never join to the same key.
const Escape = `\`

var escaper = strings.NewReplacer(Escape, Escape+Escape, "|", Escape+"|")

// EscapePart escapes one normalized key component.
func EscapePart(s string) string {
	return escaper.Replace(s)
}

const (
	SideSource = "source"
	SideTarget = "target"
)

// Compose joins the normalized components of one key. empty is true when
// any component normalizes to the empty string.
func Compose(values []any) (key string, empty bool) {
	parts := make([]string, len(values))
	for i, v := range values {
		part := common.Normalize(v)
		if part == "" {
			empty = true
		}
		parts[i] = EscapePart(part)
	}
	return strings.Join(parts, Delimiter), empty
}

// Index holds the composite key of every row of one dataset.
type Index struct {
	Side  string
	Keys  []string
	Pos   map[string]int
	Empty int
}

// Build computes keys for ds from columns. It fails with a
// DuplicateKeyError carrying up to sample offending keys in row order.
func Build(side string, ds *types.Dataset, columns []string, sample int) (*Index, error) {
	n := ds.Len()
	cols := make([][]any, len(columns))
	for i, c := range columns {
		cols[i] = ds.Column(c)
		if cols[i] == nil && n > 0 {
			return nil, &recon.ConfigurationError{
				Msg:           "key column is missing",
				MissingSource: sideCols(side, SideSource, c),
				MissingTarget: sideCols(side, SideTarget, c),
			}
		}
	}

	idx := &Index{Side: side, Keys: make([]string, n), Pos: make(map[string]int, n)}
	counts := make(map[string]int)
	var order []string
	vals := make([]any, len(columns))
	for row := 0; row < n; row++ {
		for i := range cols {
			vals[i] = cols[i][row]
		}
		key, empty := Compose(vals)
		if empty {
			idx.Empty++
		}
		idx.Keys[row] = key
		if _, seen := idx.Pos[key]; !seen {
			idx.Pos[key] = row
			order = append(order, key)
		}
		counts[key]++
	}

	if len(counts) != n {
		dup := &recon.DuplicateKeyError{Side: side}
		for _, key := range order {
			if c := counts[key]; c > 1 {
				dup.Rows += c
				if len(dup.Sample) < sample {
					dup.Sample = append(dup.Sample, key)
				}
			}
		}
		return nil, dup
	}
	return idx, nil
}

func sideCols(side, want, col string) []string {
	if side == want {
		return []string{col}
	}
	return nil
}

// Resolution is the partition of both key sets. Missing keys are in source
// order, extra keys in target order and common keys in source order.
type Resolution struct {
	Source  *Index
	Target  *Index
	Common  []types.KeyRef
	Missing []types.KeyRef
	Extra   []types.KeyRef
}

// Resolve builds both indexes and partitions their keys.
func Resolve(src, tgt *types.Dataset, srcCols, tgtCols []string, sample int) (*Resolution, error) {
	if len(srcCols) == 0 || len(srcCols) != len(tgtCols) {
		return nil, recon.Configf("primary key needs the same non-zero number of columns on both sides, got %d and %d", len(srcCols), len(tgtCols))
	}
	si, err := Build(SideSource, src, srcCols, sample)
	if err != nil {
		return nil, err
	}
	ti, err := Build(SideTarget, tgt, tgtCols, sample)
	if err != nil {
		return nil, err
	}
	return Partition(si, ti), nil
}

// Partition splits two duplicate-free indexes into key sets.
func Partition(si, ti *Index) *Resolution {
	res := &Resolution{Source: si, Target: ti}
	for row, key := range si.Keys {
		if trow, ok := ti.Pos[key]; ok {
			res.Common = append(res.Common, types.KeyRef{Key: key, SourceRow: row, TargetRow: trow})
		} else {
			res.Missing = append(res.Missing, types.KeyRef{Key: key, SourceRow: row, TargetRow: -1})
		}
	}
	for row, key := range ti.Keys {
		if _, ok := si.Pos[key]; !ok {
			res.Extra = append(res.Extra, types.KeyRef{Key: key, SourceRow: -1, TargetRow: row})
		}
	}
	return res
}

// Snapshot recovers the original row for key, falling back to row when the
// key lookup fails.
func Snapshot(ds *types.Dataset, idx *Index, key string, row int) map[string]any {
	if idx != nil {
		if pos, ok := idx.Pos[key]; ok {
			return ds.Row(pos)
		}
	}
	return ds.Row(row)
}

// Split decodes a composed key back into its components.
func Split(key string) []string {
	var (
		parts []string
		b     strings.Builder
	)
	for i := 0; i < len(key); i++ {
		switch {
		case key[i] == Escape[0] && i+1 < len(key):
			i++
			b.WriteByte(key[i])
		case strings.HasPrefix(key[i:], Delimiter):
			parts = append(parts, b.String())
			b.Reset()
			i += len(Delimiter) - 1
		default:
			b.WriteByte(key[i])
		}
	}
	return append(parts, b.String())
}

// Display renders a key for operators, one component per part.
func Display(key string) string {
	return strings.Join(Split(key), " + ")
}
