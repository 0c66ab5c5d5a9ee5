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
	"sort"
	"strings"

	"github.com/pgedge/recon/pkg/common"
)

type OverrideKind string

const (
	OverrideNone             OverrideKind = ""
	OverrideHierarchicalPath OverrideKind = "hierarchical_path"
	OverrideCodeCombination  OverrideKind = "code_combination"
	OverrideEnumeration      OverrideKind = "enumeration"
	OverrideBooleanSynonym   OverrideKind = "boolean_synonym"
	OverrideMethodSynonym    OverrideKind = "method_synonym"
	OverrideCategoryPrefix   OverrideKind = "category_prefix"
)

// OverridePriority is the order in which override kinds are documented and
// reported. A field carries at most one override.
var OverridePriority = []OverrideKind{
	OverrideHierarchicalPath,
	OverrideCodeCombination,
	OverrideEnumeration,
	OverrideBooleanSynonym,
	OverrideMethodSynonym,
	OverrideCategoryPrefix,
}

// Override is a field-specific comparison that runs before the type rule.
// The set of implementations is closed.
type Override interface {
	Kind() OverrideKind
	// Decisive overrides settle equality on their own. Non-decisive ones
	// only ever turn a pair equal and otherwise defer to the type rule.
	Decisive() bool
	override()
}

// HierarchicalPath compares the last segment of a path whose separator
// differs between the two sides.
type HierarchicalPath struct {
	SourceSeparator string
	TargetSeparator string
}

func (HierarchicalPath) Kind() OverrideKind { return OverrideHierarchicalPath }
func (HierarchicalPath) Decisive() bool     { return true }
func (HierarchicalPath) override()          {}

// CodeCombination accepts a delimited target code set when every code in it
// is allowed for the source code.
type CodeCombination struct {
	Delimiter string
	Allowed   map[string]map[string]struct{}
}

func (CodeCombination) Kind() OverrideKind { return OverrideCodeCombination }
func (CodeCombination) Decisive() bool     { return true }
func (CodeCombination) override()          {}

// Pairs returns the (source code, target code) membership rows sorted for
// deterministic staging.
func (c CodeCombination) Pairs() [][2]string {
	var out [][2]string
	for src, codes := range c.Allowed {
		for code := range codes {
			out = append(out, [2]string{src, code})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Split breaks a target value into its trimmed, non-empty codes.
func (c CodeCombination) Split(value string) []string {
	var codes []string
	for _, part := range strings.Split(value, c.Delimiter) {
		if p := common.Trim(part); p != "" {
			codes = append(codes, p)
		}
	}
	return codes
}

// Enumeration translates a source display name to its code. Names without
// an entry are compared as-is.
type Enumeration struct {
	Codes map[string]string
}

func (Enumeration) Kind() OverrideKind { return OverrideEnumeration }
func (Enumeration) Decisive() bool     { return true }
func (Enumeration) override()          {}

func (e Enumeration) Translate(name string) string {
	if code, ok := e.Codes[name]; ok {
		return code
	}
	return name
}

// Entries returns the table sorted by name.
func (e Enumeration) Entries() [][2]string {
	out := make([][2]string, 0, len(e.Codes))
	for name, code := range e.Codes {
		out = append(out, [2]string{name, code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Synonyms treats each listed pair as equal in either direction.
type Synonyms struct {
	kind  OverrideKind
	pairs [][2]string
	index map[[2]string]struct{}
}

func NewSynonyms(kind OverrideKind, pairs [][2]string) (Synonyms, error) {
	if kind != OverrideBooleanSynonym && kind != OverrideMethodSynonym {
		return Synonyms{}, fmt.Errorf("%s is not a synonym override", kind)
	}
	s := Synonyms{kind: kind, index: make(map[[2]string]struct{})}
	for _, p := range pairs {
		a, b := common.Trim(p[0]), common.Trim(p[1])
		if a == "" || b == "" {
			return Synonyms{}, fmt.Errorf("%s pair %q/%q has an empty side", kind, p[0], p[1])
		}
		for _, k := range [][2]string{{a, b}, {b, a}} {
			if _, ok := s.index[k]; !ok {
				s.index[k] = struct{}{}
				s.pairs = append(s.pairs, k)
			}
		}
	}
	return s, nil
}

func (s Synonyms) Kind() OverrideKind { return s.kind }
func (Synonyms) Decisive() bool       { return false }
func (Synonyms) override()            {}

func (s Synonyms) Match(a, b string) bool {
	_, ok := s.index[[2]string{a, b}]
	return ok
}

// Pairs lists every accepted (source, target) pair, both directions.
func (s Synonyms) Pairs() [][2]string {
	return s.pairs
}

// CategoryPrefix compares only the leading Length characters of all-digit
// values.
type CategoryPrefix struct {
	Length int
}

func (CategoryPrefix) Kind() OverrideKind { return OverrideCategoryPrefix }
func (CategoryPrefix) Decisive() bool     { return true }
func (CategoryPrefix) override()          {}

func (c CategoryPrefix) Reduce(v string) string {
	if common.IsDigits(v) {
		return common.Prefix(v, c.Length)
	}
	return v
}

var (
	DefaultBooleanPairs = [][2]string{{"是", "Y"}, {"否", "N"}}
	DefaultMethodPairs  = [][2]string{{"年限平均法", "直线法"}}
)

// Field names that get an override by convention when the rule file does
// not name one.
const (
	ConventionPathField     = "监管资产属性"
	ConventionComboField    = "关联实物管理系统代码"
	ConventionEnumField     = "线站电压等级"
	ConventionMethodField   = "折旧方法"
	ConventionCategoryField = "资产分类"
)

// conventionFor returns the default override for a field name, or nil.
func conventionFor(field string, enums map[string]map[string]string, combos map[string]map[string][]string) (Override, error) {
	switch field {
	case ConventionPathField:
		return HierarchicalPath{SourceSeparator: `\`, TargetSeparator: "-"}, nil
	case ConventionComboField:
		if table, ok := combos[field]; ok {
			return buildCombination("|", table), nil
		}
	case ConventionEnumField:
		if table, ok := enums[field]; ok {
			return buildEnumeration(table), nil
		}
	case ConventionMethodField:
		return NewSynonyms(OverrideMethodSynonym, DefaultMethodPairs)
	case ConventionCategoryField:
		return CategoryPrefix{Length: 2}, nil
	}
	return nil, nil
}

func buildEnumeration(table map[string]string) Enumeration {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	e := Enumeration{Codes: make(map[string]string, len(table))}
	for _, name := range names {
		e.Codes[common.Trim(name)] = common.Trim(table[name])
	}
	return e
}

func buildCombination(delim string, table map[string][]string) CodeCombination {
	c := CodeCombination{Delimiter: delim, Allowed: make(map[string]map[string]struct{}, len(table))}
	for src, combos := range table {
		key := common.Trim(src)
		set := c.Allowed[key]
		if set == nil {
			set = make(map[string]struct{})
			c.Allowed[key] = set
		}
		for _, combo := range combos {
			for _, code := range c.Split(combo) {
				set[code] = struct{}{}
			}
		}
	}
	return c
}
