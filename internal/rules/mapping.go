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
	"sort"

	"github.com/pgedge/recon/pkg/common"
)

// ValueMap translates source values to the codes the target stores before
// a field is compared. The first entry for a name wins. Name reverses the
// translation for display; the first name seen for a code is kept.
type ValueMap struct {
	codes   map[string]string
	names   map[string]string
	entries [][2]string
}

// NewValueMap builds a map from (name, code) entries in order. Entries with
// an empty side are ignored.
func NewValueMap(entries [][2]string) *ValueMap {
	m := &ValueMap{codes: make(map[string]string), names: make(map[string]string)}
	for _, e := range entries {
		name, code := common.Trim(e[0]), common.Trim(e[1])
		if name == "" || code == "" {
			continue
		}
		if _, ok := m.codes[name]; ok {
			continue
		}
		m.codes[name] = code
		m.entries = append(m.entries, [2]string{name, code})
		if _, ok := m.names[code]; !ok {
			m.names[code] = name
		}
	}
	return m
}

func valueMapFromTable(table map[string]string) [][2]string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([][2]string, len(names))
	for i, name := range names {
		out[i] = [2]string{name, table[name]}
	}
	return out
}

// Translate returns the code for a normalized source value, or the value
// itself when it has no entry.
func (m *ValueMap) Translate(v string) string {
	if m == nil {
		return v
	}
	if code, ok := m.codes[v]; ok {
		return code
	}
	return v
}

// Name returns the first source name mapped to code.
func (m *ValueMap) Name(code string) (string, bool) {
	if m == nil {
		return "", false
	}
	name, ok := m.names[code]
	return name, ok
}

// Entries lists the (name, code) pairs in load order.
func (m *ValueMap) Entries() [][2]string {
	if m == nil {
		return nil
	}
	return m.entries
}

func (m *ValueMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}
