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

package equiv

import (
	"github.com/shopspring/decimal"

	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/common"
)

// MismatchMask compares two aligned columns and marks the positions whose
// values are not equivalent under r. It agrees with Equal element by
// element.
func MismatchMask(r *rules.FieldRule, src, tgt []any) []bool {
	return MismatchMaskNormalized(r, common.NormalizeColumn(src), common.NormalizeColumn(tgt))
}

// MismatchMaskNormalized is MismatchMask over normalized columns.
func MismatchMaskNormalized(r *rules.FieldRule, a, b []string) []bool {
	raw := a
	if r.Mapping != nil {
		mapped := make([]string, len(a))
		for i, v := range a {
			mapped[i] = r.SourceValue(v)
		}
		a = mapped
	}

	mask := make([]bool, len(a))
	pending := make([]int, 0, len(a))
	for i := range a {
		if a[i] != b[i] && raw[i] != b[i] {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return mask
	}

	if r.Override != nil || r.Booleans != nil {
		rest := pending[:0]
		for _, i := range pending {
			if r.Booleans != nil && r.Booleans.Match(a[i], b[i]) {
				continue
			}
			switch applyOverride(r, a[i], b[i]) {
			case different:
				mask[i] = true
			case undecided:
				rest = append(rest, i)
			}
		}
		pending = rest
	}

	switch r.Type {
	case rules.Numeric:
		numericMask(r, a, b, pending, mask)
	case rules.Date:
		dateMask(r, a, b, pending, mask)
	default:
		for _, i := range pending {
			mask[i] = true
		}
	}
	return mask
}

type parsedColumn struct {
	vals []decimal.Decimal
	ok   []bool
}

func parseColumn(col []string, idx []int) parsedColumn {
	p := parsedColumn{vals: make([]decimal.Decimal, len(idx)), ok: make([]bool, len(idx))}
	for j, i := range idx {
		p.vals[j], p.ok[j] = common.ParseDecimal(col[i])
	}
	return p
}

func numericMask(r *rules.FieldRule, a, b []string, idx []int, mask []bool) {
	pa := parseColumn(a, idx)
	pb := parseColumn(b, idx)
	for j, i := range idx {
		mask[i] = !numericEqual(pa.vals[j], pa.ok[j], pb.vals[j], pb.ok[j], r)
	}
}

func dateMask(r *rules.FieldRule, a, b []string, idx []int, mask []bool) {
	na := make([]string, len(idx))
	nb := make([]string, len(idx))
	for j, i := range idx {
		na[j] = truncate(NormalizeDate(a[i]), r.Tolerance.Precision)
		nb[j] = truncate(NormalizeDate(b[i]), r.Tolerance.Precision)
	}
	for j, i := range idx {
		mask[i] = na[j] != nb[j]
	}
}
