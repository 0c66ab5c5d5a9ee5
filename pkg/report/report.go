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

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pgedge/recon/internal/keys"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

const DefaultMaxDetailRecords = 10000

// Meta describes the run a report belongs to.
type Meta struct {
	RunID      string    `json:"run_id,omitempty"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Rules      string    `json:"rules,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	TimeTaken  string    `json:"time_taken"`
}

// KeyedRow is an unmatched key with the row it came from.
type KeyedRow struct {
	Key string         `json:"key"`
	Row map[string]any `json:"row"`
}

// Document is the handoff written for every run.
type Document struct {
	Meta    Meta              `json:"meta"`
	Engine  string            `json:"engine"`
	Match   bool              `json:"match"`
	Summary types.Summary     `json:"summary"`
	Missing []KeyedRow        `json:"missing_in_target"`
	Extra   []KeyedRow        `json:"extra_in_target"`
	Diffs   []types.DiffEntry `json:"diffs"`
}

// Build assembles a document. Missing and extra rows are snapshotted from
// the datasets the result was computed from.
func Build(meta Meta, res *types.Result, src, tgt *types.Dataset) Document {
	doc := Document{
		Meta:    meta,
		Engine:  res.Engine,
		Match:   res.Match(),
		Summary: res.Summary,
		Missing: make([]KeyedRow, 0, len(res.Missing)),
		Extra:   make([]KeyedRow, 0, len(res.Extra)),
		Diffs:   res.Diffs,
	}
	if doc.Diffs == nil {
		doc.Diffs = []types.DiffEntry{}
	}
	for _, k := range res.Missing {
		doc.Missing = append(doc.Missing, KeyedRow{Key: k.Key, Row: src.Row(k.SourceRow)})
	}
	for _, k := range res.Extra {
		doc.Extra = append(doc.Extra, KeyedRow{Key: k.Key, Row: tgt.Row(k.TargetRow)})
	}
	return doc
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

// FileName is <source>_vs_<target>_recon-<timestamp>.json.
func FileName(source, target string, at time.Time) string {
	return fmt.Sprintf("%s_vs_%s_recon-%s.json", baseName(source), baseName(target), at.Format("20060102150405"))
}

func baseName(loc string) string {
	if table, ok := strings.CutPrefix(loc, "pg:"); ok {
		loc = table
	} else if loc = filepath.Base(loc); loc == "." || loc == ".." || loc == string(filepath.Separator) {
		loc = ""
	} else {
		loc = strings.TrimSuffix(loc, filepath.Ext(loc))
	}
	loc = unsafeName.ReplaceAllString(loc, "_")
	if strings.Trim(loc, "_") == "" {
		return "dataset"
	}
	return loc
}

// Write stores the JSON document and its HTML rendering in dir and returns
// the JSON path.
func Write(doc Document, dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, FileName(doc.Meta.Source, doc.Meta.Target, doc.Meta.FinishedAt))

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	if _, err := writeHTML(doc, path); err != nil {
		logger.Warn("html report not written: %v", err)
	}
	return path, nil
}

// Read loads a document written by Write.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid report %s: %w", path, err)
	}
	return &doc, nil
}

// LogOutcome prints the verdict, the key set counts and up to maxDetail
// mismatched keys with their fields.
func LogOutcome(res *types.Result, maxDetail int) {
	s := res.Summary
	if res.Match() {
		logger.Info("%s DATASETS MATCH (%d keys compared)", common.CheckMark, s.Common)
		return
	}
	logger.Warn("%s DATASETS DO NOT MATCH", common.CrossMark)
	if s.Missing > 0 {
		logger.Warn("%d keys missing in target", s.Missing)
	}
	if s.Extra > 0 {
		logger.Warn("%d keys only in target", s.Extra)
	}
	if s.Mismatched > 0 {
		logger.Warn("%d of %d common keys differ (%.2f%%)", s.Mismatched, s.Common, s.MismatchRatio*100)
	}
	if maxDetail <= 0 {
		maxDetail = DefaultMaxDetailRecords
	}
	for i, d := range res.Diffs {
		if i == maxDetail {
			logger.Info("...%d more", len(res.Diffs)-maxDetail)
			break
		}
		logger.Info("%s: %s", keys.Display(d.Key), describe(d))
	}
}

func noted(v, note string) string {
	if note == "" {
		return v
	}
	return v + " (" + note + ")"
}

func describe(d types.DiffEntry) string {
	parts := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		parts[i] = fmt.Sprintf("%s [%s] vs [%s]", f.Field,
			noted(common.SafeCut(common.Stringify(f.SourceValue), 60), f.SourceCode),
			noted(common.SafeCut(common.Stringify(f.TargetValue), 60), f.TargetName))
	}
	return strings.Join(parts, "; ")
}
