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

package compare

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pgedge/recon/internal/recon"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

// Run executes s and converts a panic into an error. Strategies release
// their own staged resources on every path, including panics.
func Run(ctx context.Context, s Strategy, in Input, rep recon.Reporter) (res *types.Result, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Debug("%s comparison panicked: %v\n%s", s.Name(), p, debug.Stack())
			res, err = nil, fmt.Errorf("%s comparison failed unexpectedly: %v", s.Name(), p)
		}
	}()

	rep.Logf(recon.LevelInfo, "starting %s comparison: %d source rows, %d target rows",
		s.Name(), in.Source.Len(), in.Target.Len())
	res, err = s.Compare(ctx, in, rep)
	if err != nil {
		return nil, err
	}
	rep.Progress(100)
	rep.Logf(recon.LevelInfo, "comparison finished in %s", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Start runs s on a dedicated goroutine. The returned channel carries log
// and progress messages in order and ends with exactly one KindDone or
// KindFailed message before it is closed. Callers must drain it.
func Start(ctx context.Context, s Strategy, in Input) <-chan recon.Message {
	out := make(chan recon.Message, 64)
	go func() {
		defer close(out)
		rep := &channelReporter{ctx: ctx, out: out}
		res, err := Run(ctx, s, in, rep)
		if err != nil {
			out <- recon.Message{Kind: recon.KindFailed, Level: recon.LevelError, Text: err.Error(), Err: err}
			return
		}
		out <- recon.Message{Kind: recon.KindDone, Percent: 100, Result: res}
	}()
	return out
}

// Wait drains a message stream, passing every non-terminal message to fn,
// and returns the terminal outcome.
func Wait(msgs <-chan recon.Message, fn func(recon.Message)) (*types.Result, error) {
	var (
		res *types.Result
		err error
	)
	for m := range msgs {
		switch m.Kind {
		case recon.KindDone:
			res = m.Result
		case recon.KindFailed:
			err = m.Err
		default:
			if fn != nil {
				fn(m)
			}
		}
	}
	if res == nil && err == nil {
		err = fmt.Errorf("comparison ended without a result")
	}
	return res, err
}

type channelReporter struct {
	ctx  context.Context
	out  chan<- recon.Message
	last int
}

func (r *channelReporter) send(m recon.Message) {
	select {
	case r.out <- m:
	case <-r.ctx.Done():
	}
}

func (r *channelReporter) Logf(level, format string, args ...any) {
	r.send(recon.Message{Kind: recon.KindLog, Level: level, Text: fmt.Sprintf(format, args...)})
}

// Progress only ever moves forward.
func (r *channelReporter) Progress(percent int) {
	if percent > 100 {
		percent = 100
	}
	if percent <= r.last {
		return
	}
	r.last = percent
	r.send(recon.Message{Kind: recon.KindProgress, Percent: percent})
}
