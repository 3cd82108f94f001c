// Package logger configures log/slog for rover and carries per-request log
// fields and trace spans through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/rover/internal/config"
)

// Options selects the handler built by New.
type Options struct {
	Verbose bool
	// JSON selects JSON output instead of text.
	JSON bool
	// OTel sends records to the global OTel logger provider.
	OTel        bool
	ServiceName string
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if opts.Verbose {
		hopts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case opts.OTel:
		handler = otelslog.NewHandler(
			opts.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)
	case opts.JSON:
		handler = NewTraceHandler(slog.NewJSONHandler(w, hopts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(w, hopts))
	}
	return slog.New(handler)
}

// Setup installs the default logger for cfg: text in development, JSON in
// production, OTel export in production when an endpoint is configured.
func Setup(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	l := New(w, Options{
		Verbose:     verbose || cfg.IsDevelopment(),
		JSON:        cfg.IsProduction(),
		OTel:        cfg.IsProduction() && cfg.OTel.Enabled(),
		ServiceName: cfg.OTel.ServiceName,
	})
	slog.SetDefault(l)
	return l
}

type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	fields := GetLogFields(ctx)
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	if fields.Handler != "" {
		r.AddAttrs(slog.String("handler", fields.Handler))
	}
	if fields.ItemID != "" {
		r.AddAttrs(slog.String("item_id", fields.ItemID))
	}
	if fields.Stream != "" {
		r.AddAttrs(slog.String("stream", fields.Stream))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
