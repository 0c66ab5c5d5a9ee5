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

package ingest

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/auth"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

const tablePrefix = "pg:"

// TableRef is a "pg:schema.table" dataset location.
type TableRef struct {
	Schema string
	Table  string
}

func (t TableRef) String() string {
	return t.Schema + "." + t.Table
}

// ParseTableRef recognizes "pg:table" and "pg:schema.table". ok is false
// for anything else, which is treated as a file path.
func ParseTableRef(loc string) (ref TableRef, ok bool, err error) {
	if !strings.HasPrefix(loc, tablePrefix) {
		return TableRef{}, false, nil
	}
	parts := strings.Split(strings.TrimPrefix(loc, tablePrefix), ".")
	switch len(parts) {
	case 1:
		ref = TableRef{Schema: "public", Table: parts[0]}
	case 2:
		ref = TableRef{Schema: parts[0], Table: parts[1]}
	default:
		return TableRef{}, true, recon.Configf("invalid table reference %q, want pg:schema.table", loc)
	}
	for _, ident := range []string{ref.Schema, ref.Table} {
		if err := queries.SanitiseIdentifier(ident); err != nil {
			return TableRef{}, true, recon.Configf("table reference %q: %v", loc, err)
		}
	}
	return ref, true, nil
}

// LoadTable reads every column of a table as text. NULL stays nil.
func LoadTable(ctx context.Context, db queries.DBTX, ref TableRef) (*types.Dataset, error) {
	columns, err := queries.GetColumns(ctx, db, ref.Schema, ref.Table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, recon.Configf("table %s not found or has no columns", ref)
	}
	sql, err := queries.SelectAsTextSQL(ref.Schema, ref.Table, columns)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", ref, err)
	}
	defer rows.Close()

	ds := types.NewDataset(ref.Table, columns)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("decode row of %s: %w", ref, err)
		}
		if err := ds.AppendRow(vals); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table %s: %w", ref, err)
	}
	return ds, nil
}

// Load reads a dataset from a CSV path or a "pg:" table reference.
func Load(ctx context.Context, loc string, opts Options, pg config.PostgresConfig) (*types.Dataset, error) {
	ref, isTable, err := ParseTableRef(loc)
	if err != nil {
		return nil, err
	}
	if !isTable {
		return LoadCSV(loc, opts)
	}
	pool, err := auth.Connect(ctx, pg)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return LoadTable(ctx, pool, ref)
}

// LoadPair reads the source and target datasets concurrently.
func LoadPair(ctx context.Context, source, target string, srcOpts, tgtOpts Options, pg config.PostgresConfig) (*types.Dataset, *types.Dataset, error) {
	var src, tgt *types.Dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = Load(gctx, source, srcOpts, pg)
		if err != nil {
			return fmt.Errorf("load source: %w", err)
		}
		logger.Debug("loaded source %s: %d rows, %d columns", source, src.Len(), len(src.Columns))
		return nil
	})
	g.Go(func() error {
		var err error
		tgt, err = Load(gctx, target, tgtOpts, pg)
		if err != nil {
			return fmt.Errorf("load target: %w", err)
		}
		logger.Debug("loaded target %s: %d rows, %d columns", target, tgt.Len(), len(tgt.Columns))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}
