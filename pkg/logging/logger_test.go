package logging_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/pkg/logging"
)

func TestDefaultLogger(t *testing.T) {
	original := *logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	buf := &bytes.Buffer{}
	logging.SetDefault(zerolog.New(buf).Level(zerolog.InfoLevel))

	logging.Debug().Msg("debug message")
	logging.Info().Str("class", "alerts").Msg("info message")

	assert.Contains(t, buf.String(), "info message")
	assert.Contains(t, buf.String(), `"class":"alerts"`)
	assert.NotContains(t, buf.String(), "debug message")
}

func TestContextLogger(t *testing.T) {
	testLogger := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithClass(ctx, "incidents")
	ctx = logging.WithSource(ctx, "poll")
	ctx = logging.WithFields(ctx, map[string]any{"attempt": 3})

	logging.FromContext(ctx).Info().Msg("fetched")

	testLogger.AssertContains(t, `"class":"incidents"`)
	testLogger.AssertContains(t, `"source":"poll"`)
	testLogger.AssertContains(t, `"attempt":3`)
	assert.Equal(t, 1, testLogger.Count())
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, logging.Default(), logging.FromContext(nil))
	assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
}

func TestFromContextOr(t *testing.T) {
	fallback := logging.NewNopLogger()
	assert.Same(t, fallback, logging.FromContextOr(context.Background(), fallback))
	assert.Equal(t, logging.Default(), logging.FromContextOr(context.Background(), nil))

	carried := logging.NewNopLogger()
	ctx := logging.WithLogger(context.Background(), carried)
	assert.Same(t, carried, logging.FromContextOr(ctx, fallback))
}

func TestCaptureLoggingForTest(t *testing.T) {
	captured := logging.CaptureLoggingForTest(t)
	logging.Warn().Msg("captured warning")
	captured.AssertContains(t, "captured warning")

	captured.Clear()
	assert.Equal(t, 0, captured.Count())
}

func TestNewLoggerFromConfig(t *testing.T) {
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(originalLevel) })

	path := filepath.Join(t.TempDir(), "opsync.log")
	logger := logging.NewLoggerFromConfig(&logging.Config{
		Level:  "warn",
		Format: "json",
		Output: path,
		Fields: map[string]any{"service": "opsync"},
	})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("visible")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "visible")
	assert.Contains(t, string(content), `"service":"opsync"`)
	assert.NotContains(t, string(content), "hidden")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, logging.ParseLevel(in), in)
	}
}
