// Package logging configures the process-wide zerolog logger. Grounded
// on the teacher's internal/observability.InitLogger: RFC3339Nano
// timestamps, an optional log file (falls back to stdout on open
// failure), and a level parsed from configuration with "warning"
// normalized to zerolog's "warn".
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init installs the global zerolog logger. If logPath is non-empty, logs
// are appended to that file instead of stdout; if the file cannot be
// opened, Init falls back to stdout and reports the failure on stderr.
func Init(logPath, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: open %q: %v, falling back to stdout\n", logPath, err)
		} else {
			w = f
		}
	}

	log.Logger = log.Output(w).With().Timestamp().Caller().Logger()
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithTrace returns a logger enriched with trace_id/span_id pulled from
// ctx, for handlers and pipeline stages that run inside a traced span.
func WithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &l
	}
	l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
	if sc.HasSpanID() {
		l = l.With().Str("span_id", sc.SpanID().String()).Logger()
	}
	if sc.IsSampled() {
		l = l.With().Bool("trace_sampled", true).Logger()
	}
	return &l
}
