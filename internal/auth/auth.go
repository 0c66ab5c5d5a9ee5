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

package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgedge/recon/pkg/config"
)

// ConnString renders cfg as a libpq keyword/value connection string.
// dbName overrides cfg.DBName when set.
func ConnString(cfg config.PostgresConfig, dbName string) string {
	var parts []string
	if host := strings.TrimSpace(cfg.Host); host != "" {
		parts = append(parts, "host="+host)
	}
	if cfg.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", cfg.Port))
	}
	if cfg.User != "" {
		parts = append(parts, "user="+quote(cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quote(cfg.Password))
	}
	dbToUse := dbName
	if dbToUse == "" {
		dbToUse = cfg.DBName
	}
	if dbToUse != "" {
		parts = append(parts, "dbname="+quote(dbToUse))
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	parts = append(parts, "sslmode="+sslMode)
	if cfg.ConnectionTimeout > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(cfg.ConnectionTimeout))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// PoolConfig parses cfg into a pool configuration carrying the statement
// timeout and pool size.
func PoolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(ConnString(cfg, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.StatementTimeout)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "recon"
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	return pc, nil
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx := ctx
	if cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.ConnectionTimeout)*time.Second)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.DBName, err)
	}
	return pool, nil
}
