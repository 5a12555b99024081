// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// lockedBuffer is a bytes.Buffer safe for use as a zap sink.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Sync() error { return nil }

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes levels", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		sink := &lockedBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "harness",
			Colors:      config.ColorConfig{Info: "green"},
		}, sink)
		GetLogger().Info("boot complete")

		out := sink.String()
		assert.Contains(t, out, "boot complete")
		assert.Contains(t, out, ansiColors["green"]+"INFO"+ansiReset)
		assert.Contains(t, out, "harness.")
	})

	t.Run("json format emits structured fields", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		sink := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "jsonsvc"}, sink)
		GetLogger().Warn("stub hit", zap.String("pattern", "**/api/**"))

		var entry map[string]interface{}
		require.NoError(t, jsoniter.Unmarshal([]byte(sink.String()), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "jsonsvc", entry["logger"])
		assert.Equal(t, "stub hit", entry["msg"])
		assert.Equal(t, "**/api/**", entry["pattern"])
	})

	t.Run("level filtering", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		sink := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, sink)
		GetLogger().Info("hidden")
		GetLogger().Error("shown")

		out := sink.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "shown")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		sink := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, sink)
		GetLogger().Debug("debug line")
		GetLogger().Info("info line")

		out := sink.String()
		assert.NotContains(t, out, "debug line")
		assert.Contains(t, out, "info line")
	})

	t.Run("log file receives json", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		path := filepath.Join(t.TempDir(), "harness.log")

		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&lockedBuffer{}))
		GetLogger().Info("to file", zap.Int("attempt", 2))
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var entry map[string]interface{}
		require.NoError(t, jsoniter.Unmarshal(bytes.TrimSpace(data), &entry))
		assert.Equal(t, "to file", entry["msg"])
		assert.EqualValues(t, 2, entry["attempt"])
	})

	t.Run("second initialize is ignored", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		first, second := &lockedBuffer{}, &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, first)
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, second)
		GetLogger().Info("once")

		assert.Contains(t, first.String(), "once")
		assert.Empty(t, second.String())
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	l := GetLogger()
	require.NotNil(t, l)
	assert.Equal(t, "fallback", l.Name())
}

func TestForScenario(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	sink := &lockedBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "svc"}, sink)

	ForScenario(GetLogger(), "palette").Info("step")

	var entry map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal([]byte(sink.String()), &entry))
	assert.Equal(t, "palette", entry["scenario"])
	assert.Equal(t, "svc.scenario", entry["logger"])
}
