package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(&Config{Level: "debug", Format: "json", Output: buf, ServiceName: "test"})
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetScanID(ctx, "scan-1")
	ctx = SetComponent(ctx, "orchestrator")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "scan-1", GetScanID(ctx))

	CtxInfo(ctx, "Scan %s started", "scan-1")
	line := lastLine(t, &buf)
	assert.Equal(t, "Scan scan-1 started", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "req-1", line[FieldRequestID])
	assert.Equal(t, "scan-1", line[FieldScanID])
	assert.Equal(t, "orchestrator", line[FieldComponent])
}

func TestEntryMetricFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())

	With(Fields{FieldAttempt: 2}).
		WithDuration(1500 * time.Millisecond).
		WithCount(7).
		Warn(ctx, "Retrying")

	line := lastLine(t, &buf)
	assert.Equal(t, "warning", line["level"])
	assert.EqualValues(t, 2, line[FieldAttempt])
	assert.EqualValues(t, 1500, line[FieldDurationMs])
	assert.EqualValues(t, 7, line[FieldCount])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Format: "json", Output: &buf})
	ctx := log.WithContext(context.Background())

	CtxDebug(ctx, "hidden")
	CtxInfo(ctx, "hidden")
	assert.Zero(t, buf.Len())

	CtxError(ctx, "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestNewFromEnv_OutputOverride(t *testing.T) {
	var buf bytes.Buffer
	log := NewFromEnv(&EnvConfig{Level: "info", Format: "text", Output: &buf, ServiceName: "worker"})
	log.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "service=worker")
}
