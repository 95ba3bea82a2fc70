package clog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureHandler struct {
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func recordKeys(r slog.Record) []string {
	var keys []string
	r.Attrs(func(a slog.Attr) bool {
		keys = append(keys, a.Key)
		return true
	})
	return keys
}

func TestAttributesHandler_AttachesContextAttributes(t *testing.T) {
	inner := &captureHandler{}
	logger := slog.New(NewAttributesHandler(inner))

	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "user_id", int64(7))
	AddAttribute(ctx, "request_id", "abc")

	logger.InfoContext(ctx, "hello")

	require.Len(t, inner.records, 1)
	assert.Equal(t, []string{"request_id", "user_id"}, recordKeys(inner.records[0]))
}

func TestAttributesHandler_NoContextAttributes(t *testing.T) {
	inner := &captureHandler{}
	logger := slog.New(NewAttributesHandler(inner))

	logger.Info("plain", "key", "value")

	require.Len(t, inner.records, 1)
	assert.Equal(t, []string{"key"}, recordKeys(inner.records[0]))
}
