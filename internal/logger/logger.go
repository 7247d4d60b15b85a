// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

// Package logger provides Nexus's process-wide logging entry point: a
// package-level slog singleton with printf-style helpers, so callers
// throughout the codebase don't thread a *slog.Logger through every
// constructor.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
}

// Initialize installs the process logger, honoring debug for level and
// json for the handler format (the management plane's --debug/--json-log
// flags bind to this).
func Initialize(debug bool, jsonFormat bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	singleton.Store(slog.New(handler))
}

// Get returns the underlying *slog.Logger, for injection into components
// that prefer structured key-value logging over the Xf helpers below.
func Get() *slog.Logger { return singleton.Load() }

// Set replaces the singleton logger. Intended for tests that need to
// capture or silence log output.
func Set(l *slog.Logger) { singleton.Store(l) }

func Debugf(format string, args ...any) { Get().Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { Get().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { Get().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }

func Debugw(msg string, kv ...any) { Get().Debug(msg, kv...) }
func Infow(msg string, kv ...any)  { Get().Info(msg, kv...) }
func Warnw(msg string, kv ...any)  { Get().Warn(msg, kv...) }
func Errorw(msg string, kv ...any) { Get().Error(msg, kv...) }
