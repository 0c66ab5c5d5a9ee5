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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitiseIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "valid identifier",
			input:   "valid_identifier",
			wantErr: false,
		},
		{
			name:    "valid identifier with numbers",
			input:   "valid_identifier_123",
			wantErr: false,
		},
		{
			name:    "identifier starting with underscore",
			input:   "_valid_identifier",
			wantErr: false,
		},
		{
			name:    "invalid identifier - starts with number",
			input:   "1invalid",
			wantErr: true,
		},
		{
			name:    "invalid identifier - contains special character",
			input:   "invalid-char",
			wantErr: true,
		},
		{
			name:    "invalid identifier - contains space",
			input:   "invalid space",
			wantErr: true,
		},
		{
			name:    "invalid identifier - SQL keyword (lowercase)",
			input:   "select",
			wantErr: false, // Assuming keywords are allowed if they match the regex
		},
		{
			name:    "invalid identifier - SQL keyword (uppercase)",
			input:   "TABLE",
			wantErr: false, // Assuming keywords are allowed if they match the regex
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "identifier with only numbers",
			input:   "123",
			wantErr: true,
		},
		{
			name:    "identifier with special char at end",
			input:   "id$",
			wantErr: true,
		},
		{
			name:    "sql injection attempt 1",
			input:   "id; DROP TABLE users;",
			wantErr: true,
		},
		{
			name:    "sql injection attempt 2",
			input:   "id OR '1'='1';",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SanitiseIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitiseIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func normalizeSQLWhitespace(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "( ", "(")
	s = strings.ReplaceAll(s, " )", ")")
	return s
}

func TestCreateStagingSQL(t *testing.T) {
	sql, err := CreateStagingSQL("recon", "run1_src", "__rn", []string{"c0", "c1"})
	require.NoError(t, err)
	require.Equal(t,
		`CREATE UNLOGGED TABLE "recon"."run1_src" ("__rn" bigint NOT NULL, "c0" text, "c1" text)`,
		normalizeSQLWhitespace(sql))
}

func TestIdentQuotesHostileNames(t *testing.T) {
	require.Equal(t, `"public"."a""b"`, Ident("public", `a"b`))
	require.Equal(t, `'it''s'`, Literal("it's"))
}

func TestKeySetSQL(t *testing.T) {
	missing, err := MissingKeysSQL("recon", "src", "tgt", "__key", "__rn")
	require.NoError(t, err)
	require.Equal(t,
		`SELECT a."__key", a."__rn" FROM "recon"."src" a LEFT JOIN "recon"."tgt" b ON b."__key" = a."__key" WHERE b."__key" IS NULL ORDER BY a."__rn"`,
		normalizeSQLWhitespace(missing))

	common, err := CommonKeysSQL("recon", "src", "tgt", "__key", "__rn")
	require.NoError(t, err)
	require.Equal(t,
		`SELECT s."__key", s."__rn", t."__rn" FROM "recon"."src" s JOIN "recon"."tgt" t ON t."__key" = s."__key" ORDER BY s."__rn"`,
		normalizeSQLWhitespace(common))

	dups, err := DuplicateKeysSQL("recon", "src", "__key", "__rn")
	require.NoError(t, err)
	require.Equal(t,
		`SELECT "__key", count(*) FROM "recon"."src" GROUP BY "__key" HAVING count(*) > 1 ORDER BY min("__rn")`,
		normalizeSQLWhitespace(dups))
}

func TestMismatchedRowsSQL(t *testing.T) {
	sql, err := MismatchedRowsSQL("recon", "src", "tgt", "__key", "__rn",
		[]string{`s."c1"`, `t."c1"`}, []string{"p1", "p2"})
	require.NoError(t, err)
	require.Equal(t,
		`SELECT s."__key", s."__rn", t."__rn", s."c1", t."c1" FROM "recon"."src" s JOIN "recon"."tgt" t ON t."__key" = s."__key" WHERE (p1) OR (p2) ORDER BY s."__rn"`,
		normalizeSQLWhitespace(sql))

	_, err = MismatchedRowsSQL("recon", "src", "tgt", "__key", "__rn", nil, nil)
	require.Error(t, err)
}

func TestUpdateColumnSQL(t *testing.T) {
	sql, err := UpdateColumnSQL("recon", "tgt", "d0", "(a || b)")
	require.NoError(t, err)
	require.Equal(t, `UPDATE "recon"."tgt" SET "d0" = (a || b)`, normalizeSQLWhitespace(sql))
}

func TestNumericOrZero(t *testing.T) {
	expr := NumericOrZero(`t."c2"`, true)
	require.Contains(t, expr, "abs(")
	require.Contains(t, expr, "ELSE 0 END")
	require.True(t, strings.HasPrefix(expr, "(CASE WHEN"))

	plain := NumericOrZero(`t."c2"`, false)
	require.NotContains(t, plain, "abs(")
}

func TestSelectAsTextSQL(t *testing.T) {
	sql, err := SelectAsTextSQL("finance", "assets", []string{"id", "名称"})
	require.NoError(t, err)
	require.Equal(t, `SELECT "id"::text, "名称"::text FROM "finance"."assets"`, normalizeSQLWhitespace(sql))
}

func TestEscapedKeyPart(t *testing.T) {
	got := EscapedKeyPart(`"c0"`, `\`)
	require.Equal(t, `replace(replace("c0", '\', '\\'), '|', '\|')`, got)
}
