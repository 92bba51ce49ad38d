// Package logging builds the process logger and adapts rule events to it.
//
// Core packages never log; they emit rules.Event values to a Handler.
// EventHandler turns those events into debug records, so diagnostics cost
// nothing unless the logger is at debug level or below.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/solatis/annotator/internal/rules"
)

// Levels, including trace below debug.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the handler writing records.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatDev  Format = "dev" // colorized, for terminals
)

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q (expected trace, debug, info, warn, error)", s)
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatText, FormatDev:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q (expected json, text, dev)", s)
	}
}

type options struct {
	writer io.Writer
	level  slog.Level
	format Format
}

// Option configures New.
type Option func(*options)

// WithWriter sets the output; the default is stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLevel sets the minimum level.
func WithLevel(l slog.Level) Option {
	return func(o *options) { o.level = l }
}

// WithFormat sets the record format.
func WithFormat(f Format) Option {
	return func(o *options) { o.format = f }
}

// New builds a logger. Defaults: JSON to stderr at info.
func New(opts ...Option) *slog.Logger {
	o := &options{writer: os.Stderr, level: LevelInfo, format: FormatJSON}
	for _, apply := range opts {
		apply(o)
	}

	switch o.format {
	case FormatDev:
		return slog.New(tint.NewHandler(o.writer, &tint.Options{
			Level:      o.level,
			TimeFormat: "[15:04:05.000]",
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 {
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
						return tint.Attr(13, slog.String(a.Key, "TRC"))
					}
				}
				return a
			},
		}))
	case FormatText:
		return slog.New(slog.NewTextHandler(o.writer, handlerOptions(o.level)))
	default:
		return slog.New(slog.NewJSONHandler(o.writer, handlerOptions(o.level)))
	}
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					return slog.String(a.Key, "TRACE")
				}
			}
			return a
		},
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return New(WithWriter(io.Discard), WithLevel(LevelError+4))
}

// EventHandler adapts rule events to logger. Evaluation results go out at
// trace level, everything else at debug; failures at warn.
func EventHandler(logger *slog.Logger) rules.Handler {
	return func(e rules.Event) {
		level := LevelDebug
		switch e.Name {
		case rules.EventEvaluateBegin, rules.EventEvaluateResult:
			level = LevelTrace
		case rules.EventEvaluateError, rules.EventBuildFailed:
			level = LevelWarn
		}

		ctx := context.Background()
		if !logger.Enabled(ctx, level) {
			return
		}

		attrs := make([]slog.Attr, 0, len(e.Data)+1)
		if e.Latency > 0 {
			attrs = append(attrs, slog.Duration("latency", e.Latency))
		}
		for k, v := range e.Data {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, e.Name, attrs...)
	}
}
