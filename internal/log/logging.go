// Package log builds the loggers used across uvcd: the structured
// slog.Logger for daemon events and the RawLogger that dumps UVC
// control traffic byte for byte.
//
// Without a log file, records below Error go to stdout and Error and
// above go to stderr, so a service manager can split the streams.
// With a log file, the console gets everything on stderr and the file
// receives a duplicate stream.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// LevelTrace sits below Debug. At trace level the control-traffic
// dump is enabled even without an explicit raw file.
const LevelTrace slog.Level = -8

// Config carries the logging options from the CLI.
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// File receives a duplicate structured log stream when set.
	File string
	// RawFile receives the hex dump of every setup packet, data
	// phase, and control response when set.
	RawFile string
}

func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the structured logger and the raw control-traffic
// logger from cfg. The returned closers must be closed on shutdown
// when files are in use.
//
// The raw logger resolves in order: RawFile if set; stdout when the
// level is trace and stdout is a terminal (a piped stdout stays
// machine-readable); otherwise a no-op.
func Setup(cfg Config) (*slog.Logger, RawLogger, []io.Closer, error) {
	level := ParseLevel(cfg.Level)
	var handlers []slog.Handler
	var closeFiles []io.Closer

	if cfg.File == "" {
		stdout := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		handlers = append(handlers, levelFilter{pass: func(l slog.Level) bool { return l < slog.LevelError }, h: stdout})

		stderr := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		handlers = append(handlers, levelFilter{pass: func(l slog.Level) bool { return l >= slog.LevelError }, h: stderr})
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFiles = append(closeFiles, f)
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	logger := slog.New(multiHandler{hs: handlers})

	var raw RawLogger
	switch {
	case cfg.RawFile != "":
		f, err := os.OpenFile(cfg.RawFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw log file", "file", cfg.RawFile, "error", err)
			raw = NewRaw(nil)
		} else {
			closeFiles = append(closeFiles, f)
			raw = NewRaw(f)
		}
	case level <= LevelTrace && term.IsTerminal(int(os.Stdout.Fd())):
		raw = NewRaw(os.Stdout)
	default:
		raw = NewRaw(nil)
	}

	return logger, raw, closeFiles, nil
}

// multiHandler fans out records to multiple handlers.
type multiHandler struct{ hs []slog.Handler }

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.hs {
		_ = h.Handle(ctx, r)
	}
	return nil
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithAttrs(attrs)
	}
	return multiHandler{hs: out}
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithGroup(name)
	}
	return multiHandler{hs: out}
}

// levelFilter delegates to an underlying handler but only passes the
// levels accepted by the predicate.
type levelFilter struct {
	pass func(slog.Level) bool
	h    slog.Handler
}

func (f levelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.pass(level) && f.h.Enabled(ctx, level)
}

func (f levelFilter) Handle(ctx context.Context, r slog.Record) error {
	if !f.pass(r.Level) {
		return nil
	}
	return f.h.Handle(ctx, r)
}

func (f levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFilter{pass: f.pass, h: f.h.WithAttrs(attrs)}
}

func (f levelFilter) WithGroup(name string) slog.Handler {
	return levelFilter{pass: f.pass, h: f.h.WithGroup(name)}
}
