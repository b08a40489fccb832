// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package log provides leveled, context-tagged logging.
//
// Lines are rendered in the form
//
//	I260829 12:34:56.789012 mvcc.go:42  [tablet=1] message
//
// where the leading letter is the severity. Context tags attached via
// github.com/cockroachdb/logtags are printed between the source location
// and the message.
package log

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/cockroachdb/logtags"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// Severity identifies the sorts of log entries.
type Severity int

// The supported severities, in increasing order of urgency.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) letter() byte {
	switch s {
	case SeverityInfo:
		return 'I'
	case SeverityWarning:
		return 'W'
	case SeverityError:
		return 'E'
	default:
		return 'F'
	}
}

var logging struct {
	mu struct {
		syncutil.Mutex
		w *os.File
	}
	verbosity int
}

func init() {
	logging.mu.w = os.Stderr
	if v, err := strconv.Atoi(os.Getenv("TABLETDB_VERBOSITY")); err == nil {
		logging.verbosity = v
	}
}

// V returns whether the configured verbosity is at or above the requested
// level. Calls to Infof guarded by V(n) are compiled in but usually skipped.
func V(level int) bool {
	return logging.verbosity >= level
}

// Infof logs an informational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityInfo, format, args...)
}

// Warningf logs a warning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityWarning, format, args...)
}

// Errorf logs an error message.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityError, format, args...)
}

// Fatalf logs the message and terminates the process. It is reserved for
// states the process cannot safely continue from.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityFatal, format, args...)
	os.Exit(2)
}

func output(ctx context.Context, sev Severity, format string, args ...interface{}) {
	file, line := "???", 0
	if _, f, l, ok := runtime.Caller(2); ok {
		file, line = filepath.Base(f), l
	}
	var tags string
	if b := logtags.FromContext(ctx); b != nil {
		tags = "[" + b.String() + "] "
	}
	msg := fmt.Sprintf(format, args...)
	now := timeutil.Now().Format("060102 15:04:05.000000")
	logging.mu.Lock()
	defer logging.mu.Unlock()
	fmt.Fprintf(logging.mu.w, "%c%s %s:%d  %s%s\n",
		sev.letter(), now, file, line, tags, msg)
}
