package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("console_filters_by_level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewWithWriter("warn", "console", &buf)
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("Publish failed, reconnecting", zap.String("topic", "imu"))

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "\tW\t")
		assert.Contains(t, out, "Publish failed, reconnecting")
		assert.Contains(t, out, `"topic": "imu"`)
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewWithWriter("debug", "json", &buf)
		require.NoError(t, err)

		logger.Debug("Stop consuming")
		assert.Contains(t, buf.String(), `"msg":"Stop consuming"`)
		assert.Contains(t, buf.String(), `"level":"debug"`)
	})

	t.Run("invalid_level", func(t *testing.T) {
		_, err := NewWithWriter("loud", "console", &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid_format", func(t *testing.T) {
		_, err := NewWithWriter("info", "xml", &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}
