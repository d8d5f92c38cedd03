// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/lancet/internal/config"
)

// -- Test Cases --

func TestNewLogger(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Info("This is a test message.")
		_ = logger.Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO", "Output should contain the log level")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen, "Info level should be colorized green")
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Warn("This is a JSON message.", zap.String("key", "value"))
		_ = logger.Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
		logger.Info("hidden")
		logger.Error("shown")
		_ = logger.Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should fall back to info on an invalid level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "verbose", Format: "json"}, zapcore.AddSync(&buf))
		logger.Debug("debug line")
		logger.Info("info line")
		_ = logger.Sync()

		assert.NotContains(t, buf.String(), "debug line")
		assert.Contains(t, buf.String(), "info line")
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "lancet-test.log")
		var console bytes.Buffer

		cfg := config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logPath,
			MaxSize: 1, // 1 MB
		}
		logger := NewLogger(cfg, zapcore.AddSync(&console))
		logger.Error("This should go to the file.")
		Sync(logger)

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "****", Redact("abc"))
	redacted := Redact("AIzaSyD-secret-key")
	assert.True(t, strings.HasPrefix(redacted, "AIza"))
	assert.NotContains(t, redacted, "secret")
}

func TestSync_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { Sync(nil) })
}
