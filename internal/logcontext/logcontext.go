package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey string

const SlogFields ctxKey = "slog_fields"

// AppendCtx returns a context carrying the given attrs in addition to any
// attrs already present, so handlers can emit them with every record.
func AppendCtx(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(SlogFields).([]slog.Attr); ok {
		v = append(v, attrs...)
		return context.WithValue(parent, SlogFields, v)
	}

	v := make([]slog.Attr, 0, len(attrs))
	v = append(v, attrs...)
	return context.WithValue(parent, SlogFields, v)
}

// Attrs extracts the attrs accumulated on the context, if any.
func Attrs(ctx context.Context) []slog.Attr {
	if v, ok := ctx.Value(SlogFields).([]slog.Attr); ok {
		return v
	}
	return nil
}
