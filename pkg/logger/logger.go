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

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var (
	Log = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
)

func SetLevel(level log.Level) {
	Log.SetLevel(level)
}

func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

// ParseLevel accepts the level names used in recon.yaml and on the command
// line. Unknown names fall back to info.
func ParseLevel(name string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// For returns a logger that tags every line with keyvals.
func For(keyvals ...any) *log.Logger {
	return Log.With(keyvals...)
}

func Info(format string, args ...any) {
	Log.Infof(format, args...)
}

func Debug(format string, args ...any) {
	Log.Debugf(format, args...)
}

func Warn(format string, args ...any) {
	Log.Warnf(format, args...)
}

func Error(format string, args ...any) error {
	Log.Errorf(format, args...)
	return fmt.Errorf(format, args...)
}

// Print writes an already formatted line at the named level.
func Print(level, line string) {
	switch ParseLevel(level) {
	case log.DebugLevel:
		Log.Debug(line)
	case log.WarnLevel:
		Log.Warn(line)
	case log.ErrorLevel:
		Log.Error(line)
	default:
		Log.Info(line)
	}
}

func Fatal(msg any, args ...any) {
	Log.Fatal(msg, args...)
}
