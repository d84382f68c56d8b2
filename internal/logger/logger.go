// Package logger is the process-wide slog front end. Output, level and format
// can change at runtime; loggers returned by With follow level changes but
// keep the output they were created with.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
	output  atomic.Pointer[io.Writer]
	logFmt  atomic.Value
)

func init() {
	level.Set(slog.LevelInfo)
	logFmt.Store(FormatText)
	setOutput(os.Stdout)
}

func build() {
	w := io.Writer(os.Stdout)
	if p := output.Load(); p != nil {
		w = *p
	}
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler
	if logFmt.Load() == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	current.Store(slog.New(h))
}

func setOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	output.Store(&w)
	build()
}

func SetOutput(w io.Writer) { setOutput(w) }

// SetFormat switches between logfmt-style text and JSON lines. Unknown
// values fall back to text.
func SetFormat(f string) {
	if strings.EqualFold(strings.TrimSpace(f), FormatJSON) {
		logFmt.Store(FormatJSON)
	} else {
		logFmt.Store(FormatText)
	}
	build()
}

// SetLevel accepts debug, info, warn and error; anything else means info.
func SetLevel(l string) { level.Set(ParseLevel(l)) }

func ParseLevel(l string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Enabled(l slog.Level) bool { return level.Level() <= l }

// With returns a child logger carrying attrs, e.g. a series key for one loop.
func With(args ...any) *slog.Logger { return current.Load().With(args...) }

func logf(l slog.Level, msg string, v []any) {
	if !Enabled(l) {
		return
	}
	if len(v) > 0 {
		msg = fmt.Sprintf(msg, v...)
	}
	current.Load().Log(context.Background(), l, msg)
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }
