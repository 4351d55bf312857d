// Package logging wraps log/slog with the handful of call sites this
// module's server and reactor actually need: a process-wide default
// logger plus small helpers so call sites pass structured fields
// instead of building format strings.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// SetDefault replaces the logger every package-level helper below uses.
// Embedders call this once at startup to redirect output or attach a
// different slog.Handler (JSON, a level filter, and so on).
func SetDefault(l *slog.Logger) {
	defaultLogger.Store(l)
}

// Default returns the logger package-level helpers currently use.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
