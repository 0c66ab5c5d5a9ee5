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

package recon

import (
	"fmt"

	"github.com/pgedge/recon/pkg/types"
)

type Kind int

const (
	KindLog Kind = iota
	KindProgress
	KindDone
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindProgress:
		return "progress"
	case KindDone:
		return "done"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Message is one ordered event from a running reconciliation. Exactly one
// KindDone or KindFailed message ends every stream.
type Message struct {
	Kind    Kind
	Level   string
	Text    string
	Percent int
	Result  *types.Result
	Err     error
}

// Reporter receives log lines and progress from a comparison strategy.
type Reporter interface {
	Logf(level, format string, args ...any)
	Progress(percent int)
}

type discard struct{}

func (discard) Logf(string, string, ...any) {}
func (discard) Progress(int)                {}

// Discard is a Reporter that drops everything.
var Discard Reporter = discard{}

// Recorder keeps every message in memory. Tests use it to assert on what a
// strategy reported.
type Recorder struct {
	Lines    []Message
	Percents []int
}

func (r *Recorder) Logf(level, format string, args ...any) {
	r.Lines = append(r.Lines, Message{Kind: KindLog, Level: level, Text: fmt.Sprintf(format, args...)})
}

func (r *Recorder) Progress(percent int) {
	r.Percents = append(r.Percents, percent)
}

// Texts returns the logged lines at level, or every line when level is "".
func (r *Recorder) Texts(level string) []string {
	var out []string
	for _, m := range r.Lines {
		if level == "" || m.Level == level {
			out = append(out, m.Text)
		}
	}
	return out
}
