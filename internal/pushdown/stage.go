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
	"strings"
	"time"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/keys"
	"github.com/pgedge/recon/internal/rules"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

const (
	ordinalColumn = "__rn"
	keyColumn     = "__key"

	DefaultInsertBatchSize = 5000
)

// stagedTable is a dataset copied into the store. Dataset columns are
// stored under positional names so operator-supplied headers never reach
// SQL text.
type stagedTable struct {
	name    string
	columns map[string]string
}

func (t *stagedTable) column(name string) (string, error) {
	staged, ok := t.columns[name]
	if !ok {
		return "", fmt.Errorf("column %s is not staged in %s", name, t.name)
	}
	return staged, nil
}

// ref returns a quoted reference to a staged column, optionally qualified
// by a table alias.
func (t *stagedTable) ref(alias, name string) (string, error) {
	staged, err := t.column(name)
	if err != nil {
		return "", err
	}
	if alias == "" {
		return queries.Ident(staged), nil
	}
	return alias + "." + queries.Ident(staged), nil
}

// session owns the tables of one pushdown run and drops them on cleanup.
type session struct {
	store   Store
	schema  string
	prefix  string
	batch   int
	created []string
}

func (s *session) table(suffix string) string {
	return s.prefix + "_" + suffix
}

func (s *session) exec(ctx context.Context, sql string, err error) error {
	if err != nil {
		return err
	}
	return s.store.Exec(ctx, sql)
}

func (s *session) create(ctx context.Context, name, sql string, err error) error {
	if err := s.exec(ctx, sql, err); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	s.created = append(s.created, name)
	return nil
}

// stage creates a table holding the listed dataset columns plus the row
// ordinal and bulk loads it.
func (s *session) stage(ctx context.Context, suffix string, ds *types.Dataset, columns []string) (*stagedTable, error) {
	t := &stagedTable{name: s.table(suffix), columns: make(map[string]string, len(columns))}
	staged := make([]string, len(columns))
	for i, c := range columns {
		staged[i] = fmt.Sprintf("c%d", i)
		t.columns[c] = staged[i]
	}
	sql, err := queries.CreateStagingSQL(s.schema, t.name, ordinalColumn, staged)
	if err := s.create(ctx, t.name, sql, err); err != nil {
		return nil, err
	}

	start := time.Now()
	names := append([]string{ordinalColumn}, staged...)
	cols := make([][]any, len(columns))
	for i, c := range columns {
		cols[i] = ds.Column(c)
	}
	rows := make([][]any, 0, min(s.batch, ds.Len()))
	for r := 0; r < ds.Len(); r++ {
		row := make([]any, len(names))
		row[0] = int64(r)
		for i := range cols {
			row[i+1] = stagedValue(cols[i][r])
		}
		rows = append(rows, row)
		if len(rows) == s.batch {
			if _, err := s.store.CopyRows(ctx, s.schema, t.name, names, rows); err != nil {
				return nil, err
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := s.store.CopyRows(ctx, s.schema, t.name, names, rows); err != nil {
			return nil, err
		}
	}
	logger.Debug("staged %d rows of %s into %s.%s in %s", ds.Len(), ds.Name, s.schema, t.name,
		time.Since(start).Round(time.Millisecond))
	return t, nil
}

func stagedValue(v any) any {
	if common.IsNull(v) {
		return nil
	}
	return common.Stringify(v)
}

// addKey computes the composite key column the same way keys.Compose does.
func (s *session) addKey(ctx context.Context, t *stagedTable, columns []string) error {
	expr, err := keyExpr(t, columns)
	if err != nil {
		return err
	}
	sql, err := queries.AddTextColumnSQL(s.schema, t.name, keyColumn)
	if err := s.exec(ctx, sql, err); err != nil {
		return err
	}
	sql, err = queries.UpdateColumnSQL(s.schema, t.name, keyColumn, expr)
	if err := s.exec(ctx, sql, err); err != nil {
		return err
	}
	sql, err = queries.CreateKeyIndexSQL(s.schema, t.name, keyColumn)
	if err := s.exec(ctx, sql, err); err != nil {
		return err
	}
	sql, err = queries.AnalyzeTableSQL(s.schema, t.name)
	return s.exec(ctx, sql, err)
}

func keyExpr(t *stagedTable, columns []string) (string, error) {
	parts := make([]string, len(columns))
	for i, c := range columns {
		ref, err := t.ref("", c)
		if err != nil {
			return "", err
		}
		parts[i] = queries.EscapedKeyPart(queries.Normalized(ref), keys.Escape)
	}
	return strings.Join(parts, " || "+queries.Literal(keys.Delimiter)+" || "), nil
}

func emptyKeyPredicate(t *stagedTable, columns []string) (string, error) {
	parts := make([]string, len(columns))
	for i, c := range columns {
		ref, err := t.ref("", c)
		if err != nil {
			return "", err
		}
		parts[i] = queries.Normalized(ref) + " = ''"
	}
	return strings.Join(parts, " OR "), nil
}

// addColumn adds a text column to t and fills it with expr.
func (s *session) addColumn(ctx context.Context, t *stagedTable, column, expr string) error {
	sql, err := queries.AddTextColumnSQL(s.schema, t.name, column)
	if err := s.exec(ctx, sql, err); err != nil {
		return err
	}
	sql, err = queries.UpdateColumnSQL(s.schema, t.name, column, expr)
	return s.exec(ctx, sql, err)
}

// addDateColumn stores the date-normalized form of expr in column.
func (s *session) addDateColumn(ctx context.Context, t *stagedTable, column, expr string) error {
	if err := s.addColumn(ctx, t, column, queries.Normalized(expr)); err != nil {
		return err
	}
	sql, err := queries.UpdateColumnSQL(s.schema, t.name, column, normalizeDate(queries.Ident(column)))
	return s.exec(ctx, sql, err)
}

// stageLookup loads the translation table an enumeration or code
// combination override reads from.
func (s *session) stageLookup(ctx context.Context, suffix string, o rules.Override) (string, error) {
	switch v := o.(type) {
	case rules.Enumeration:
		return s.stageEntries(ctx, suffix, v.Entries())
	case rules.CodeCombination:
		name := s.table(suffix)
		sql, err := queries.CreateComboTableSQL(s.schema, name)
		return s.fill(ctx, name, sql, err, []string{"source_code", "target_code"}, v.Pairs())
	}
	return "", fmt.Errorf("override %s needs no lookup table", o.Kind())
}

// stageEntries loads a (name, code) translation table.
func (s *session) stageEntries(ctx context.Context, suffix string, entries [][2]string) (string, error) {
	name := s.table(suffix)
	sql, err := queries.CreateEnumTableSQL(s.schema, name)
	return s.fill(ctx, name, sql, err, []string{"name", "code"}, entries)
}

func (s *session) fill(ctx context.Context, name, sql string, err error, columns []string, entries [][2]string) (string, error) {
	if err := s.create(ctx, name, sql, err); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return name, nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e[0], e[1]}
	}
	if _, err := s.store.CopyRows(ctx, s.schema, name, columns, rows); err != nil {
		return "", err
	}
	return name, nil
}

// cleanup drops every table the session created. It runs on its own
// context so a cancelled run still releases its tables.
func (s *session) cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var failed []string
	for i := len(s.created) - 1; i >= 0; i-- {
		sql, err := queries.DropTableSQL(s.schema, s.created[i])
		if err := s.exec(ctx, sql, err); err != nil {
			logger.Debug("drop %s: %v", s.created[i], err)
			failed = append(failed, s.created[i])
		}
	}
	s.created = nil
	if len(failed) > 0 {
		return fmt.Errorf("failed to drop staging tables: %s", strings.Join(failed, ", "))
	}
	return nil
}
