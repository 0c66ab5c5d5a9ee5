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
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q", t.text)
}

const operators = "+-*/()[]:"

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || (r > unicode.MaxASCII && !unicode.IsSpace(r) && !unicode.IsPunct(r))
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case strings.ContainsRune(operators, r):
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i += size
		case r >= '0' && r <= '9' || r == '.':
			start := i
			seenDot := false
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.' && !seenDot) {
				if src[i] == '.' {
					seenDot = true
				}
				i++
			}
			if src[start:i] == "." {
				return nil, fmt.Errorf("unexpected '.' at offset %d", start)
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})
		case r == '\'' || r == '"':
			start := i
			quote := byte(r)
			i++
			var b strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == quote {
					if i+1 < len(src) && src[i+1] == quote {
						b.WriteByte(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quote starting at offset %d", start)
			}
			kind := tokString
			if quote == '"' {
				kind = tokIdent
			}
			toks = append(toks, token{kind: kind, text: b.String(), pos: start})
		case isIdentStart(r):
			start := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}
