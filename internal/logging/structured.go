package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/oriys/taskbus/internal/bus"
	"github.com/oriys/taskbus/internal/tracing"
)

// InitStructured reconfigures the operational logger's output format and
// level. format is "text" (default, human-reading a terminal) or "json"
// (for shipping taskbusd's own logs to a collector). level is one of the
// strings accepted by SetLevelFromString.
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	opLogger.Store(slog.New(handler))
}

// Delivery returns a logger scoped to one delivery attempt of a single
// message, carrying its kind, id, and attempt number on every record it
// writes. A worker attaches these once here rather than repeating them at
// every log call inside a handler — this repo's stand-in for the
// per-invocation request logger a request/response server would keep
// next to its operational one, scoped to a bus delivery instead of an
// HTTP request. When ctx carries an active span, the logger also carries
// that span's trace and span ids, so a delivery's log lines can be
// correlated with its trace after the fact.
func Delivery(ctx context.Context, kind bus.Kind, id bus.ID, attempt int) *slog.Logger {
	l := Op().With("kind", kind, "message_id", id, "attempt", attempt)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		l = l.With("trace_id", traceID)
		if spanID := tracing.GetSpanID(ctx); spanID != "" {
			l = l.With("span_id", spanID)
		}
	}
	return l
}
