package log

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	err := errors.New("boom")

	tests := []struct {
		name string
		in   []any
		keys []string
	}{
		{"empty", nil, nil},
		{"pairs", []any{"device_id", "esp32-01", "duration", 300, "ok", true}, []string{"device_id", "duration", "ok"}},
		{"error only", []any{err}, []string{"error"}},
		{"zap field passthrough", []any{zap.String("x", "y"), "n", 1}, []string{"x", "n"}},
		{"dangling key", []any{"k1", "v1", "k2"}, []string{"k1", "k2"}},
		{"non-string key", []any{123, "value"}, []string{"123"}},
		{"time and duration", []any{"at", time.Unix(0, 0), "age", time.Second}, []string{"at", "age"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.in)
			var keys []string
			for _, f := range fields {
				keys = append(keys, f.Key)
			}
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestToFields_Values(t *testing.T) {
	fields := toFields([]any{"k", "v", "orphan"})
	require.Len(t, fields, 2)
	assert.Equal(t, "!MISSING", fields[1].String)

	fields = toFields([]any{"age", 2 * time.Second})
	require.Len(t, fields, 1)
	assert.Equal(t, zapcore.DurationType, fields[0].Type)

	long := []byte(strings.Repeat("x", maxBytesLogged+10))
	fields = toFields([]any{"payload", long})
	require.Len(t, fields, 1)
	assert.Len(t, fields[0].String, maxBytesLogged+3)
}

func TestForCommand(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ForCommand(FromZap(zap.New(core)).WithName("issuer"), "d1", "sched-1", "origin", "schedule")

	l.Error(errors.New("publish failed"), "downlink failed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "issuer", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "d1", ctx[KeyDevice])
	assert.Equal(t, "sched-1", ctx[KeyCommand])
	assert.Equal(t, "schedule", ctx["origin"])
	assert.Equal(t, "publish failed", ctx["error"])
}

func TestForDevice(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForDevice(FromZap(zap.New(core)), "esp32-01").Debug("dropped below level")
	ForDevice(FromZap(zap.New(core)), "esp32-01").Info("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "esp32-01", entries[0].ContextMap()[KeyDevice])
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", "bogus"} {
		opts := NewOptions()
		opts.Level = "loud"
		opts.Format = format
		assert.NotNil(t, NewLogger(opts), format)
	}
}
