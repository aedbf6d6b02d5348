package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/market-feed/common/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "invalid"})
	assert.Error(t, err)
}

func TestNew_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "info", "warn", "error"} {
		l, err := logger.New(logger.Config{Level: lvl, DevMode: true})
		require.NoError(t, err, "level %q", lvl)
		l.Sync()
	}
}

func TestWithContext_AddsSessionAndTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := logger.Wrap(zap.New(core))

	ctx := logger.ContextWithSessionID(context.Background(), "sess-1")
	ctx = logger.ContextWithTraceID(ctx, "trace-1")
	l.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "trace-1", fields["trace_id"])

	sid, ok := logger.SessionIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", sid)
}

func TestWithContext_NoFieldsReturnsSame(t *testing.T) {
	l := logger.Nop()
	assert.Same(t, l, l.WithContext(context.Background()))
}
