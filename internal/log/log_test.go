package log

import (
	"context"
	"testing"

	"github.com/pbinitiative/zenflow/internal/appcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	previous := current.Load()
	Replace(zap.New(core))
	t.Cleanup(func() { current.Store(previous) })
	return logs
}

func TestInfofAddsRequestFields(t *testing.T) {
	// given
	logs := observe(t)
	ctx := appcontext.WithRequestId(context.Background(), "req-1")
	ctx = appcontext.WithProcessInstanceKey(ctx, 7)

	// when
	Infof(ctx, "instance %s", "started")

	// then
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "instance started", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, map[string]any{"requestId": "req-1", "processInstanceKey": int64(7)}, entry.ContextMap())
}

func TestErrorWithoutContext(t *testing.T) {
	logs := observe(t)

	Error("failed to listen: %v", "boom")
	Debug("fired %d timers", 1)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "failed to listen: boom", logs.All()[0].Message)
	assert.Empty(t, logs.All()[0].ContextMap())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}
