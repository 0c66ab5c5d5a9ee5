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

// Package ingest loads source and target datasets from CSV exports or
// PostgreSQL tables.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/types"
)

type Options struct {
	// SkipRows is the number of leading records dropped before the header.
	SkipRows int
	// HeaderRows is 1, or 2 for a grouped header whose first level is
	// forward filled and joined to the second as "group-name".
	HeaderRows int
	// Encoding is utf-8 (default), gbk or gb18030.
	Encoding string
	Comma    rune
}

var headerNoise = regexp.MustCompile(`[\*\s]+`)

func decoder(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "gbk", "cp936":
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	}
	return nil, recon.Configf("unsupported encoding %q", name)
}

// LoadCSV reads a CSV export into a dataset named after the file.
func LoadCSV(path string, opts Options) (*types.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ds, err := ReadCSV(name, f, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV parses CSV from r. Every cell is kept as a string; blank records
// are dropped.
func ReadCSV(name string, r io.Reader, opts Options) (*types.Dataset, error) {
	enc, err := decoder(opts.Encoding)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(transform.NewReader(r, enc.NewDecoder()))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	headerRows := opts.HeaderRows
	if headerRows == 0 {
		headerRows = 1
	}
	if headerRows != 1 && headerRows != 2 {
		return nil, recon.Configf("header rows must be 1 or 2, got %d", headerRows)
	}

	var header [][]string
	line := 0
	for len(header) < headerRows {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil, recon.Configf("%s: no header row found after skipping %d rows", name, opts.SkipRows)
		}
		if err != nil {
			return nil, err
		}
		line++
		if line <= opts.SkipRows {
			continue
		}
		header = append(header, rec)
	}
	columns, err := Columns(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	ds := types.NewDataset(name, columns)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if blank(rec) {
			continue
		}
		row := make([]any, len(columns))
		for i := range row {
			row[i] = ""
		}
		for i, v := range rec {
			if i >= len(columns) {
				if strings.TrimSpace(v) != "" {
					return nil, fmt.Errorf("%s: line %d has %d fields, header has %d", name, line, len(rec), len(columns))
				}
				continue
			}
			row[i] = v
		}
		if err := ds.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Columns turns one or two header records into cleaned, unique column
// names. Unnamed columns become "Unnamed:N" and repeats get a ".N" suffix.
func Columns(header [][]string) ([]string, error) {
	if len(header) == 0 {
		return nil, recon.Configf("empty header")
	}
	width := 0
	for _, h := range header {
		width = max(width, len(h))
	}
	names := make([]string, width)
	if len(header) == 1 {
		copy(names, header[0])
	} else {
		group := ""
		for i := range names {
			var top, sub string
			if i < len(header[0]) {
				top = strings.TrimSpace(header[0][i])
			}
			if i < len(header[1]) {
				sub = header[1][i]
			}
			if top != "" {
				group = top
			}
			names[i] = strings.Trim(group+"-"+sub, "-")
		}
	}

	seen := make(map[string]int, width)
	var cleaned []string
	for i, n := range names {
		n = headerNoise.ReplaceAllString(n, "")
		if n == "" {
			n = fmt.Sprintf("Unnamed:%d", i)
		}
		if c, ok := seen[n]; ok {
			seen[n] = c + 1
			n = fmt.Sprintf("%s.%d", n, c+1)
		} else {
			seen[n] = 0
		}
		cleaned = append(cleaned, n)
	}
	if allUnnamed(cleaned) {
		return nil, recon.Configf("header row has no column names")
	}
	return cleaned, nil
}

func allUnnamed(cols []string) bool {
	for _, c := range cols {
		if !strings.HasPrefix(c, "Unnamed:") {
			return false
		}
	}
	return true
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
