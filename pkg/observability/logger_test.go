package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/platinummonkey/retailops/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Info("shown")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "shown", entry["msg"])
}

func TestLogger_CriticalLevelLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	logger.WithField("orphan_id", "abc").Critical("compensation failed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "CRITICAL", entry["level"])
	assert.Equal(t, "abc", entry["orphan_id"])
}

func TestLogger_CriticalFilteredAboveError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(CriticalLevel, &buf)

	logger.Error("not shown")
	assert.Zero(t, buf.Len())

	logger.Critical("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_WithFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{"a": "1", "b": 2}).WithError(errors.New("bad")).Info("m")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "1", entry["a"])
	assert.Equal(t, float64(2), entry["b"])
	assert.Equal(t, "bad", entry["error"])

	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")

	FromContext(ctx).Info("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "user-1", entry["user_id"])
}

func TestGetLogger_DefaultWhenMissing(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, CriticalLevel, ParseLogLevel("critical"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"))
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	called := false

	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
		panic("boom")
	}()

	assert.True(t, called)
	assert.Contains(t, buf.String(), "PANIC recovered")
}
