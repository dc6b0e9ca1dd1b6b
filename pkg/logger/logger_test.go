package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumispace/billing/pkg/logger"
)

func TestNewDefaultsToInfoJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithService("billing"))

	log.Debug("hidden")
	assert.Empty(t, buf.String())

	log.Info("visible", "key", "value")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "visible", record["msg"])
	assert.Equal(t, "value", record["key"])
	assert.Equal(t, "billing", record["service"])
}

func TestNewDevelopmentEnvironment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithEnvironment("development"))

	log.Debug("dev detail")

	out := buf.String()
	assert.Contains(t, out, "dev detail")
	assert.Contains(t, out, "env=development")
	assert.NotContains(t, out, "{", "development uses the text handler")
}

func TestWithLevelOverride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))

	log.Info("suppressed")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
