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

package queries

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func SanitiseIdentifier(ident string) error {
	if !validIdentifierRegex.MatchString(ident) {
		return fmt.Errorf("invalid identifier: %s", ident)
	}
	return nil
}

func RenderSQL(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render SQL: %w", err)
	}
	return buf.String(), nil
}

// Ident quotes a possibly schema-qualified name.
func Ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// Literal renders s as a standard-conforming string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type StagingTable struct {
	Table   string
	Ordinal string
	Columns []string
}

func CreateStagingSQL(schema, table, ordinal string, columns []string) (string, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = Ident(c)
	}
	return RenderSQL(SQLTemplates.CreateStaging, StagingTable{
		Table:   Ident(schema, table),
		Ordinal: Ident(ordinal),
		Columns: quoted,
	})
}

func CreateEnumTableSQL(schema, table string) (string, error) {
	return RenderSQL(SQLTemplates.CreateEnumTable, map[string]string{"Table": Ident(schema, table)})
}

func CreateComboTableSQL(schema, table string) (string, error) {
	return RenderSQL(SQLTemplates.CreateComboTable, map[string]string{"Table": Ident(schema, table)})
}

func DropTableSQL(schema, table string) (string, error) {
	return RenderSQL(SQLTemplates.DropTable, map[string]string{"Table": Ident(schema, table)})
}

func AddTextColumnSQL(schema, table, column string) (string, error) {
	return RenderSQL(SQLTemplates.AddTextColumn, map[string]string{
		"Table":  Ident(schema, table),
		"Column": Ident(column),
	})
}

// UpdateColumnSQL sets column to expr on every row. expr is trusted SQL
// built by this module, never operator text.
func UpdateColumnSQL(schema, table, column, expr string) (string, error) {
	return RenderSQL(SQLTemplates.UpdateColumn, map[string]string{
		"Table":  Ident(schema, table),
		"Column": Ident(column),
		"Expr":   expr,
	})
}

func CreateKeyIndexSQL(schema, table, key string) (string, error) {
	return RenderSQL(SQLTemplates.CreateKeyIndex, map[string]string{
		"Table": Ident(schema, table),
		"Key":   Ident(key),
	})
}

func AnalyzeTableSQL(schema, table string) (string, error) {
	return RenderSQL(SQLTemplates.AnalyzeTable, map[string]string{"Table": Ident(schema, table)})
}

func CountEmptyKeysSQL(schema, table, predicate string) (string, error) {
	return RenderSQL(SQLTemplates.CountEmptyKeys, map[string]string{
		"Table":     Ident(schema, table),
		"Predicate": predicate,
	})
}

func DuplicateKeysSQL(schema, table, key, ordinal string) (string, error) {
	return RenderSQL(SQLTemplates.DuplicateKeys, map[string]string{
		"Table":   Ident(schema, table),
		"Key":     Ident(key),
		"Ordinal": Ident(ordinal),
	})
}

// MissingKeysSQL lists keys of left that have no partner in right, in left
// row order.
func MissingKeysSQL(schema, left, right, key, ordinal string) (string, error) {
	return RenderSQL(SQLTemplates.MissingKeys, map[string]string{
		"Left":    Ident(schema, left),
		"Right":   Ident(schema, right),
		"Key":     Ident(key),
		"Ordinal": Ident(ordinal),
	})
}

func CommonKeysSQL(schema, source, target, key, ordinal string) (string, error) {
	return RenderSQL(SQLTemplates.CommonKeys, map[string]string{
		"Source":  Ident(schema, source),
		"Target":  Ident(schema, target),
		"Key":     Ident(key),
		"Ordinal": Ident(ordinal),
	})
}

type MismatchQuery struct {
	Source     string
	Target     string
	Key        string
	Ordinal    string
	Columns    []string
	Predicates []string
}

// MismatchedRowsSQL selects joined rows where any predicate holds. columns
// and predicates are expressions over the aliases s and t.
func MismatchedRowsSQL(schema, source, target, key, ordinal string, columns, predicates []string) (string, error) {
	if len(predicates) == 0 {
		return "", fmt.Errorf("mismatch query needs at least one predicate")
	}
	return RenderSQL(SQLTemplates.MismatchedRows, MismatchQuery{
		Source:     Ident(schema, source),
		Target:     Ident(schema, target),
		Key:        Ident(key),
		Ordinal:    Ident(ordinal),
		Columns:    columns,
		Predicates: predicates,
	})
}

func SelectAsTextSQL(schema, table string, columns []string) (string, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = Ident(c)
	}
	return RenderSQL(SQLTemplates.SelectAsText, map[string]any{
		"Table":   Ident(schema, table),
		"Columns": quoted,
	})
}

// GetColumns retrieves the column names for a given table.
func GetColumns(ctx context.Context, db DBTX, schema, table string) ([]string, error) {
	sql, err := RenderSQL(SQLTemplates.GetColumns, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to render GetColumns SQL: %w", err)
	}

	rows, err := db.Query(ctx, sql, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query to get columns failed for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, columnName)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over columns: %w", err)
	}

	if len(columns) == 0 {
		return nil, nil
	}

	return columns, nil
}

func CheckSchemaExists(ctx context.Context, db DBTX, schema string) (bool, error) {
	sql, err := RenderSQL(SQLTemplates.CheckSchema, nil)
	if err != nil {
		return false, fmt.Errorf("failed to render CheckSchema SQL: %w", err)
	}
	var exists bool
	if err := db.QueryRow(ctx, sql, schema).Scan(&exists); err != nil {
		return false, fmt.Errorf("query to check schema %s failed: %w", schema, err)
	}
	return exists, nil
}
