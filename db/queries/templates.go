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

import "text/template"

type Templates struct {
	GetColumns       *template.Template
	SelectAsText     *template.Template
	CheckSchema      *template.Template
	CreateStaging    *template.Template
	CreateEnumTable  *template.Template
	CreateComboTable *template.Template
	DropTable        *template.Template
	AddTextColumn    *template.Template
	UpdateColumn     *template.Template
	CreateKeyIndex   *template.Template
	AnalyzeTable     *template.Template

	CountEmptyKeys *template.Template
	DuplicateKeys  *template.Template
	MissingKeys    *template.Template
	CommonKeys     *template.Template
	MismatchedRows *template.Template
}

var SQLTemplates = Templates{
	GetColumns: template.Must(template.New("getColumns").Parse(`
		SELECT
			column_name
		FROM
			information_schema.columns
		WHERE
			table_schema = $1
			AND table_name = $2
		ORDER BY
			ordinal_position;
	`)),
	SelectAsText: template.Must(template.New("selectAsText").Parse(`
		SELECT
			{{- range $i, $c := .Columns}}{{if $i}},{{end}}
			{{$c}}::text{{end}}
		FROM
			{{.Table}}
	`)),
	CheckSchema: template.Must(template.New("checkSchema").Parse(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.schemata WHERE schema_name = $1
		);
	`)),
	CreateStaging: template.Must(template.New("createStaging").Parse(`
		CREATE UNLOGGED TABLE {{.Table}} (
			{{.Ordinal}} bigint NOT NULL
			{{- range .Columns}},
			{{.}} text{{end}}
		)
	`)),
	CreateEnumTable: template.Must(template.New("createEnumTable").Parse(`
		CREATE UNLOGGED TABLE {{.Table}} (
			name text PRIMARY KEY,
			code text NOT NULL
		)
	`)),
	CreateComboTable: template.Must(template.New("createComboTable").Parse(`
		CREATE UNLOGGED TABLE {{.Table}} (
			source_code text NOT NULL,
			target_code text NOT NULL,
			PRIMARY KEY (source_code, target_code)
		)
	`)),
	DropTable: template.Must(template.New("dropTable").Parse(`
		DROP TABLE IF EXISTS {{.Table}}
	`)),
	AddTextColumn: template.Must(template.New("addTextColumn").Parse(`
		ALTER TABLE {{.Table}} ADD COLUMN {{.Column}} text
	`)),
	UpdateColumn: template.Must(template.New("updateColumn").Parse(`
		UPDATE {{.Table}} SET {{.Column}} = {{.Expr}}
	`)),
	CreateKeyIndex: template.Must(template.New("createKeyIndex").Parse(`
		CREATE INDEX ON {{.Table}} ({{.Key}})
	`)),
	AnalyzeTable: template.Must(template.New("analyzeTable").Parse(`
		ANALYZE {{.Table}}
	`)),

	CountEmptyKeys: template.Must(template.New("countEmptyKeys").Parse(`
		SELECT
			count(*)
		FROM
			{{.Table}}
		WHERE
			{{.Predicate}}
	`)),
	DuplicateKeys: template.Must(template.New("duplicateKeys").Parse(`
		SELECT
			{{.Key}},
			count(*)
		FROM
			{{.Table}}
		GROUP BY
			{{.Key}}
		HAVING
			count(*) > 1
		ORDER BY
			min({{.Ordinal}})
	`)),
	MissingKeys: template.Must(template.New("missingKeys").Parse(`
		SELECT
			a.{{.Key}},
			a.{{.Ordinal}}
		FROM
			{{.Left}} a
			LEFT JOIN {{.Right}} b ON b.{{.Key}} = a.{{.Key}}
		WHERE
			b.{{.Key}} IS NULL
		ORDER BY
			a.{{.Ordinal}}
	`)),
	CommonKeys: template.Must(template.New("commonKeys").Parse(`
		SELECT
			s.{{.Key}},
			s.{{.Ordinal}},
			t.{{.Ordinal}}
		FROM
			{{.Source}} s
			JOIN {{.Target}} t ON t.{{.Key}} = s.{{.Key}}
		ORDER BY
			s.{{.Ordinal}}
	`)),
	MismatchedRows: template.Must(template.New("mismatchedRows").Parse(`
		SELECT
			s.{{.Key}},
			s.{{.Ordinal}},
			t.{{.Ordinal}}
			{{- range .Columns}},
			{{.}}{{end}}
		FROM
			{{.Source}} s
			JOIN {{.Target}} t ON t.{{.Key}} = s.{{.Key}}
		WHERE
			{{- range $i, $p := .Predicates}}
			{{if $i}}OR {{end}}({{$p}}){{end}}
		ORDER BY
			s.{{.Ordinal}}
	`)),
}
