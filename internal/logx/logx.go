// Package logx is a thin, reusable wrapper around the standard library's
// log.Logger, grounded on the teacher's own fmt.Printf("✓ ...")/log.Printf
// style in blackhole.go (success/warning lines prefixed by a status glyph,
// one line per transaction with its hash and gas cost). The teacher's
// go.mod carries no third-party structured-logging library, so this stays
// on the standard library rather than importing one the corpus never
// reaches for (DESIGN.md documents this choice).
package logx

import (
	"io"
	"log"
	"os"
)

// Logger is the narrow logging surface the rest of the engine depends on.
type Logger struct {
	std *log.Logger
}

// New builds a Logger writing to w (os.Stdout if w is nil).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{std: log.New(w, "", log.LstdFlags)}
}

// Info logs a plain progress line.
func (l *Logger) Info(format string, args ...interface{}) {
	l.std.Printf(format, args...)
}

// Success logs a completed action, matching the teacher's "✓ ..." lines.
func (l *Logger) Success(format string, args ...interface{}) {
	l.std.Printf("✓ "+format, args...)
}

// Warn logs a recoverable problem, matching the teacher's "⚠️  ..." lines.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.std.Printf("⚠️  "+format, args...)
}

// Error logs an unrecoverable failure.
func (l *Logger) Error(format string, args ...interface{}) {
	l.std.Printf("✗ "+format, args...)
}
