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

package derive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type parser struct {
	toks []token
	pos  int
}

// Parse turns src into an expression tree.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at offset %d", t, t.pos)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops string) (byte, bool) {
	t := p.peek()
	if t.kind == tokOp && strings.Contains(ops, t.text) {
		return t.text[0], true
	}
	return 0, false
}

func (p *parser) expect(op string) error {
	t := p.next()
	if t.kind != tokOp || t.text != op {
		return fmt.Errorf("expected %q, found %s at offset %d", op, t, t.pos)
	}
	return nil
}

func (p *parser) expr() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+-")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*/")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right}
	}
}

func (p *parser) unary() (Node, error) {
	if _, ok := p.isOp("-"); ok {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: '-', X: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Node, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("["); !ok {
			return x, nil
		}
		p.next()
		s := &Slice{X: x}
		if s.Low, err = p.bound(); err != nil {
			return nil, err
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		if s.High, err = p.bound(); err != nil {
			return nil, err
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		if s.Low != nil && s.High != nil && *s.Low > *s.High {
			return nil, fmt.Errorf("slice start %d is after end %d", *s.Low, *s.High)
		}
		x = s
	}
}

func (p *parser) bound() (*int, error) {
	t := p.peek()
	if t.kind != tokNumber {
		return nil, nil
	}
	p.next()
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("slice bound %s must be a non-negative integer", t)
	}
	return &n, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		if t.text == "" {
			return nil, fmt.Errorf("empty column name at offset %d", t.pos)
		}
		return &Ident{Name: t.text}, nil
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("bad number %s: %w", t, err)
		}
		return &Number{Text: t.text, Value: d}, nil
	case tokString:
		return &String{Value: t.text}, nil
	case tokOp:
		if t.text == "(" {
			n, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
	return nil, fmt.Errorf("unexpected %s at offset %d", t, t.pos)
}
