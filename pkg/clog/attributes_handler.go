package clog

import (
	"context"
	"log/slog"
	"slices"
)

// AttributesHandler decorates another slog.Handler so attributes accumulated
// on the request context ride along on every record. Keys are emitted in
// sorted order, keeping log lines stable across requests.
type AttributesHandler struct {
	inner slog.Handler
}

func NewAttributesHandler(inner slog.Handler) *AttributesHandler {
	return &AttributesHandler{inner: inner}
}

func (h *AttributesHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AttributesHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs := GetAttributes(ctx); len(attrs) > 0 {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			record.AddAttrs(slog.Any(k, attrs[k]))
		}
	}
	return h.inner.Handle(ctx, record)
}

func (h *AttributesHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AttributesHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *AttributesHandler) WithGroup(name string) slog.Handler {
	return &AttributesHandler{inner: h.inner.WithGroup(name)}
}
