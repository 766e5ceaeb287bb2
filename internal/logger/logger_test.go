package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestWithContextUsesAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")

	ctx := ContextWithLogger(context.Background(), WithRequestID("req-1"))
	WithContext(ctx).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "festtix", line["service"])
}

func TestWithContextFallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "text")

	WithContext(context.Background()).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
	assert.NotEmpty(t, NewRequestID())
}
