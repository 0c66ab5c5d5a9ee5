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

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pgedge/recon/internal/ingest"
	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/internal/rules/derive"
	"github.com/pgedge/recon/pkg/common"
)

const DefaultAbsMarker = "折旧"

type fileDoc struct {
	AbsMarker       *string                        `yaml:"abs_marker"`
	Conventions     *bool                          `yaml:"conventions"`
	BooleanSynonyms *bool                          `yaml:"boolean_synonyms"`
	Fields          []fieldDoc                     `yaml:"fields"`
	Enumerations    map[string]map[string]string   `yaml:"enumerations"`
	Combinations    map[string]map[string][]string `yaml:"combinations"`
	Mappings        map[string]mappingDoc          `yaml:"mappings"`
}

// mappingDoc translates source values of one field. Inline values come
// first; a CSV file adds the pairs found in its From and To columns.
type mappingDoc struct {
	Values     map[string]string `yaml:"values"`
	File       string            `yaml:"file"`
	From       string            `yaml:"from"`
	To         string            `yaml:"to"`
	SkipRows   int               `yaml:"skip_rows"`
	HeaderRows int               `yaml:"header_rows"`
	Encoding   string            `yaml:"encoding"`
}

type fieldDoc struct {
	Field       string       `yaml:"field"`
	TargetField string       `yaml:"target_field"`
	Type        string       `yaml:"type"`
	Tolerance   any          `yaml:"tolerance"`
	Primary     any          `yaml:"primary"`
	Derivation  string       `yaml:"derivation"`
	Override    *overrideDoc `yaml:"override"`
}

type overrideDoc struct {
	Kind            string     `yaml:"kind"`
	SourceSeparator string     `yaml:"source_separator"`
	TargetSeparator string     `yaml:"target_separator"`
	Delimiter       string     `yaml:"delimiter"`
	Pairs           [][]string `yaml:"pairs"`
	Length          int        `yaml:"length"`
}

var typeAliases = map[string]DataType{
	"text":    Text,
	"文本":      Text,
	"numeric": Numeric,
	"数值":      Numeric,
	"date":    Date,
	"日期":      Date,
}

var precisionAliases = map[string]Precision{
	"year":   PrecisionYear,
	"年":      PrecisionYear,
	"month":  PrecisionMonth,
	"月":      PrecisionMonth,
	"day":    PrecisionDay,
	"日":      PrecisionDay,
	"hour":   PrecisionHour,
	"时":      PrecisionHour,
	"minute": PrecisionMinute,
	"分":      PrecisionMinute,
	"second": PrecisionSecond,
	"秒":      PrecisionSecond,
}

// Load reads a rule file from path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	m, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return m, nil
}

// Parse builds a model from a YAML rule document. A derivation that does
// not compile is kept on the rule as DerivationErr rather than failing the
// whole rule set. Relative mapping files are read from the working
// directory.
func Parse(data []byte) (*Model, error) {
	return parse(data, "")
}

func parse(data []byte, dir string) (*Model, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, recon.Configf("parse rules: %v", err)
	}

	marker := DefaultAbsMarker
	if doc.AbsMarker != nil {
		marker = strings.TrimSpace(*doc.AbsMarker)
	}
	conventions := doc.Conventions == nil || *doc.Conventions
	booleans := doc.BooleanSynonyms == nil || *doc.BooleanSynonyms

	mappings := make(map[string]mappingDoc, len(doc.Mappings))
	for name, md := range doc.Mappings {
		mappings[common.Trim(name)] = md
	}

	fields := make([]*FieldRule, 0, len(doc.Fields))
	for i, fd := range doc.Fields {
		f, err := buildField(fd, marker, &doc)
		if err != nil {
			return nil, recon.Configf("field #%d (%s): %v", i+1, fd.Field, err)
		}
		if f.Override == nil && conventions && (fd.Override == nil || fd.Override.Kind == "") {
			o, err := conventionFor(f.Field, doc.Enumerations, doc.Combinations)
			if err != nil {
				return nil, recon.Configf("field %s: %v", f.Field, err)
			}
			f.Override = o
		}
		plain := fd.Override != nil && strings.EqualFold(strings.TrimSpace(fd.Override.Kind), "none")
		if booleans && !f.Primary && !plain && acceptsBooleans(f.Override) {
			s, err := NewSynonyms(OverrideBooleanSynonym, DefaultBooleanPairs)
			if err != nil {
				return nil, err
			}
			f.Booleans = &s
		}
		if md, ok := mappings[f.Field]; ok {
			vm, err := loadMapping(md, dir)
			if err != nil {
				return nil, recon.Configf("mapping for %s: %v", f.Field, err)
			}
			f.Mapping = vm
			delete(mappings, f.Field)
		}
		fields = append(fields, f)
	}
	for name := range mappings {
		return nil, recon.Configf("mapping names unknown field %s", name)
	}
	return NewModel(marker, fields)
}

// acceptsBooleans reports whether the 是/否 synonym table is consulted for a
// field with override o. Path, combination and enumeration overrides settle
// the comparison before it.
func acceptsBooleans(o Override) bool {
	switch o.(type) {
	case nil, CategoryPrefix:
		return true
	case Synonyms:
		return o.Kind() != OverrideBooleanSynonym
	}
	return false
}

func loadMapping(md mappingDoc, dir string) (*ValueMap, error) {
	entries := valueMapFromTable(md.Values)
	if strings.TrimSpace(md.File) != "" {
		path := md.File
		if dir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		from, to := common.Trim(md.From), common.Trim(md.To)
		if from == "" || to == "" {
			return nil, fmt.Errorf("file %s needs both from and to columns", md.File)
		}
		ds, err := ingest.LoadCSV(path, ingest.Options{SkipRows: md.SkipRows, HeaderRows: md.HeaderRows, Encoding: md.Encoding})
		if err != nil {
			return nil, err
		}
		if missing := ds.MissingColumns([]string{from, to}); len(missing) > 0 {
			return nil, fmt.Errorf("file %s has no column %s", md.File, strings.Join(missing, ", "))
		}
		names, codes := ds.Column(from), ds.Column(to)
		for i := range names {
			entries = append(entries, [2]string{common.Normalize(names[i]), common.Normalize(codes[i])})
		}
	}
	vm := NewValueMap(entries)
	if vm.Len() == 0 {
		return nil, fmt.Errorf("no usable entries")
	}
	return vm, nil
}

func buildField(fd fieldDoc, marker string, doc *fileDoc) (*FieldRule, error) {
	f := &FieldRule{
		Field:       common.Trim(fd.Field),
		TargetField: common.Trim(fd.TargetField),
		Derivation:  strings.TrimSpace(fd.Derivation),
	}
	typ := strings.ToLower(common.Trim(fd.Type))
	if typ == "" {
		typ = string(Text)
	}
	dt, ok := typeAliases[typ]
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", fd.Type)
	}
	f.Type = dt

	primary, err := parsePrimary(fd.Primary)
	if err != nil {
		return nil, err
	}
	f.Primary = primary

	tol, err := parseTolerance(fd.Tolerance, dt)
	if err != nil {
		return nil, err
	}
	f.Tolerance = tol
	f.Absolute = dt == Numeric && common.ContainsMarker(f.Field, marker)

	if fd.Override != nil && fd.Override.Kind != "" {
		o, err := buildOverride(f.Field, fd.Override, doc)
		if err != nil {
			return nil, err
		}
		f.Override = o
	}

	if f.Derived() {
		mode := derive.Text
		if dt == Numeric {
			mode = derive.Numeric
		}
		f.Program, f.DerivationErr = derive.Compile(f.Derivation, mode, marker)
	}
	return f, nil
}

func parsePrimary(v any) (bool, error) {
	switch p := v.(type) {
	case nil:
		return false, nil
	case bool:
		return p, nil
	case string:
		switch strings.ToLower(common.Trim(p)) {
		case "是", "y", "yes", "true":
			return true, nil
		case "否", "n", "no", "false", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("primary must be a boolean or 是/否, got %v", v)
}

func parseTolerance(v any, dt DataType) (Tolerance, error) {
	raw := common.Normalize(v)
	if raw == "" {
		return Tolerance{}, nil
	}
	if p, ok := precisionAliases[strings.ToLower(raw)]; ok {
		return Tolerance{Precision: p}, nil
	}
	d, ok := common.ParseDecimal(raw)
	if !ok {
		return Tolerance{}, fmt.Errorf("tolerance %q is neither a number nor a date precision", raw)
	}
	if dt != Numeric {
		if d.IsZero() {
			return Tolerance{}, nil
		}
		return Tolerance{}, fmt.Errorf("numeric tolerance %s on a %s field", raw, dt)
	}
	if d.IsZero() {
		return Tolerance{}, nil
	}
	return Tolerance{Delta: d, HasDelta: true}, nil
}

func buildOverride(field string, od *overrideDoc, doc *fileDoc) (Override, error) {
	kind := OverrideKind(strings.ToLower(strings.TrimSpace(od.Kind)))
	switch kind {
	case "none":
		return nil, nil
	case OverrideHierarchicalPath:
		o := HierarchicalPath{SourceSeparator: od.SourceSeparator, TargetSeparator: od.TargetSeparator}
		if o.SourceSeparator == "" {
			o.SourceSeparator = `\`
		}
		if o.TargetSeparator == "" {
			o.TargetSeparator = "-"
		}
		return o, nil
	case OverrideCodeCombination:
		table, ok := doc.Combinations[field]
		if !ok {
			return nil, fmt.Errorf("code_combination needs a combinations table for %s", field)
		}
		delim := od.Delimiter
		if delim == "" {
			delim = "|"
		}
		return buildCombination(delim, table), nil
	case OverrideEnumeration:
		table, ok := doc.Enumerations[field]
		if !ok {
			return nil, fmt.Errorf("enumeration needs an enumerations table for %s", field)
		}
		return buildEnumeration(table), nil
	case OverrideBooleanSynonym, OverrideMethodSynonym:
		pairs := DefaultBooleanPairs
		if kind == OverrideMethodSynonym {
			pairs = DefaultMethodPairs
		}
		if len(od.Pairs) > 0 {
			pairs = nil
			for _, p := range od.Pairs {
				if len(p) != 2 {
					return nil, fmt.Errorf("%s pairs must have exactly two values", kind)
				}
				pairs = append(pairs, [2]string{p[0], p[1]})
			}
		}
		return NewSynonyms(kind, pairs)
	case OverrideCategoryPrefix:
		length := od.Length
		if length == 0 {
			length = 2
		}
		return CategoryPrefix{Length: length}, nil
	}
	return nil, fmt.Errorf("unknown override kind %q", od.Kind)
}
