package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := New("info", "json", &buf)
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("snapshot recorded", "file_object_id", 7)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "snapshot recorded", entry["msg"])
		assert.Equal(t, float64(7), entry["file_object_id"])
	})

	t.Run("Text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := New("debug", "", &buf)
		require.NoError(t, err)

		logger.Debug("visible", "dtmi", "dtmi:com:example:A;1")
		assert.Contains(t, buf.String(), "msg=visible")
		assert.Contains(t, buf.String(), "dtmi=dtmi:com:example:A;1")
	})

	t.Run("Errors", func(t *testing.T) {
		t.Parallel()
		_, err := New("info", "xml", &bytes.Buffer{})
		assert.Error(t, err)
		_, err = New("chatty", "text", &bytes.Buffer{})
		assert.Error(t, err)
	})
}
