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

// Package derive parses and evaluates the expressions that compute a target
// value from other target columns.
//
// Grammar:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = "-" unary | postfix
//	postfix = primary { "[" [int] ":" [int] "]" }
//	primary = number | 'string' | ident | "quoted ident" | "(" expr ")"
package derive

import (
	"github.com/shopspring/decimal"
)

type Node interface {
	node()
}

type Ident struct {
	Name string
}

type Number struct {
	Text  string
	Value decimal.Decimal
}

type String struct {
	Value string
}

type Unary struct {
	Op byte
	X  Node
}

type Binary struct {
	Op   byte
	L, R Node
}

// Slice takes characters [Low, High) of X. Nil bounds are open.
type Slice struct {
	X    Node
	Low  *int
	High *int
}

func (*Ident) node()  {}
func (*Number) node() {}
func (*String) node() {}
func (*Unary) node()  {}
func (*Binary) node() {}
func (*Slice) node()  {}

// Columns returns the distinct identifiers referenced by n in first-use
// order.
func Columns(n Node) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Ident:
			if !seen[v.Name] {
				seen[v.Name] = true
				out = append(out, v.Name)
			}
		case *Unary:
			walk(v.X)
		case *Binary:
			walk(v.L)
			walk(v.R)
		case *Slice:
			walk(v.X)
		}
	}
	walk(n)
	return out
}
