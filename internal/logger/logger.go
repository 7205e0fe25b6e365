// File: internal/logger/logger.go
// Author: momentics <momentics@gmail.com>
//
// Package logger hands out per-subsystem slog loggers.
//
//	var log = logger.Logger("server")
//	log.Info("listening", "addr", addr)
//
// Levels can be changed at runtime with SetLevel; output can be redirected
// with SetOutput, including for loggers created earlier.

package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	loggers sync.Map // subsystem -> *slog.Logger
	levels  sync.Map // subsystem -> *slog.LevelVar

	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
)

type switchWriter struct{}

func (switchWriter) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return w.Write(p)
}

// Logger returns the cached logger of subsystem, creating it from
// ConfigFromEnv on first use.
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}
	cfg := ConfigFromEnv()
	lv := new(slog.LevelVar)
	lv.Set(cfg.LevelFor(subsystem))
	l := New(switchWriter{}, cfg.Format, lv).With(slog.String("subsystem", subsystem))

	actual, loaded := loggers.LoadOrStore(subsystem, l)
	if !loaded {
		levels.Store(subsystem, lv)
	}
	return actual.(*slog.Logger)
}

// New builds a logger writing to w.
func New(w io.Writer, format Format, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLevel changes the level of an existing subsystem logger.
func SetLevel(subsystem string, level slog.Level) {
	if lv, ok := levels.Load(subsystem); ok {
		lv.(*slog.LevelVar).Set(level)
	}
}

// SetOutput redirects every subsystem logger to w.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
