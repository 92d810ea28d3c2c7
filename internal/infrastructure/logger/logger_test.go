package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.NotEmpty(t, cfg.TimeFormat)
}

func TestProductionConfig(t *testing.T) {
	cfg := ProductionConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.NotEmpty(t, cfg.TimeFormat)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "production config", cfg: ProductionConfig()},
		{
			name: "debug console",
			cfg:  &Config{Level: "debug", Format: "console", Output: "stdout", TimeFormat: defaultTimeFormat},
		},
		{
			name: "json to stderr",
			cfg:  &Config{Level: "info", Format: "json", Output: "stderr", TimeFormat: defaultTimeFormat},
		},
		{
			name: "empty time format falls back to default",
			cfg:  &Config{Level: "info", Format: "json", Output: "stdout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewForEnvironment(t *testing.T) {
	for _, env := range []string{"development", "production", "staging", ""} {
		t.Run("env="+env, func(t *testing.T) {
			logger, err := NewForEnvironment(env)
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestSync(t *testing.T) {
	logger, err := NewForEnvironment("development")
	require.NoError(t, err)

	// Sync on stdout may fail on some platforms; it must not panic.
	assert.NotPanics(t, func() { _ = Sync(logger) })
}

func TestSink_StandardStreams(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "STDOUT", ""} {
		t.Run("output="+output, func(t *testing.T) {
			cfg := &Config{Output: output}
			assert.NotNil(t, cfg.sink())
		})
	}
}

func TestSink_File(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "medagenda-log-*.log")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	cfg := &Config{Output: tmpFile.Name()}
	assert.NotNil(t, cfg.sink())
}

func TestSink_UnopenablePathFallsBack(t *testing.T) {
	cfg := &Config{Output: "/nonexistent-dir/medagenda.log"}
	// Falls back to stdout rather than failing.
	assert.NotNil(t, cfg.sink())
}

func TestEncoder_Formats(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		t.Run("format="+format, func(t *testing.T) {
			cfg := &Config{Format: format, TimeFormat: defaultTimeFormat}
			assert.NotNil(t, cfg.encoder())
		})
	}
}

func TestJSONOutputShape(t *testing.T) {
	var buf bytes.Buffer

	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(&buf), zapcore.InfoLevel)
	logger := zap.New(core)

	logger.Info("cache warmed", zap.String("resource", "schedules"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache warmed", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "schedules", entry["resource"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	ec := zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	debugCore := zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(&buf), zapcore.DebugLevel)
	zap.New(debugCore).Debug("debug message")
	assert.True(t, strings.Contains(buf.String(), "debug message"))

	buf.Reset()

	infoCore := zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(&buf), zapcore.InfoLevel)
	infoLogger := zap.New(infoCore)

	infoLogger.Debug("debug message")
	assert.False(t, strings.Contains(buf.String(), "debug message"))

	infoLogger.Info("info message")
	assert.True(t, strings.Contains(buf.String(), "info message"))
}
