package logger

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

func AttrsFromCtx(ctx context.Context) []slog.Attr {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}

	return []slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
}

// WithRequest returns L() enriched with the request id and trace attrs found in ctx.
func WithRequest(ctx context.Context) *slog.Logger {
	var args []any
	if id := middleware.GetReqID(ctx); id != "" {
		args = append(args, slog.String("request_id", id))
	}
	for _, a := range AttrsFromCtx(ctx) {
		args = append(args, a)
	}
	if len(args) == 0 {
		return L()
	}
	return L().With(args...)
}
