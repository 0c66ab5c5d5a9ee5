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
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgedge/recon/internal/auth"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
)

// Store is the relational surface the pushdown engine needs. Query calls
// scan once per result row with the decoded column values.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, scan func(values []any) error, args ...any) error
	CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error)
	Close()
}

type pgStore struct {
	pool *pgxpool.Pool
}

// Open connects to the PostgreSQL instance described by cfg.
func Open(ctx context.Context, cfg config.PostgresConfig) (Store, error) {
	pool, err := auth.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// NewStore wraps an existing pool. Close closes the pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Exec(ctx context.Context, sql string, args ...any) error {
	logger.Debug("exec: %s", sql)
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

func (s *pgStore) Query(ctx context.Context, sql string, scan func(values []any) error, args ...any) error {
	logger.Debug("query: %s", sql)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("failed to decode row: %w", err)
		}
		if err := scan(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

func (s *pgStore) CopyRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s.%s failed: %w", schema, table, err)
	}
	return n, nil
}

func (s *pgStore) Close() {
	s.pool.Close()
}
