// Package logging provides structured logging helpers.
//
// Loggers are dependency-injected, never global: main() builds the base
// handler and every component scopes its own logger once at construction
// with slog.With. A nil logger means discard, so components never have to
// nil-check before logging.
//
// Logging is sparse on purpose: lifecycle boundaries and run summaries,
// never the scan or dispatch inner loops.
package logging

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger.
//
//	func NewBuilder(logger *slog.Logger) *Builder {
//	    return &Builder{logger: logging.Default(logger).With("component", "builder")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
