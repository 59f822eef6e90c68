package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	t.Run("empty level defaults to info", func(tt *testing.T) {
		lvl, err := ParseLevel("")
		require.NoError(tt, err)
		assert.Equal(tt, zapcore.InfoLevel, lvl)
	})

	t.Run("level names are case insensitive", func(tt *testing.T) {
		lvl, err := ParseLevel("WARN")
		require.NoError(tt, err)
		assert.Equal(tt, zapcore.WarnLevel, lvl)
	})

	t.Run("unknown level is rejected", func(tt *testing.T) {
		_, err := ParseLevel("verbose")
		assert.ErrorIs(tt, err, ErrInvalidLevel)
	})
}

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.With("resource", "books").Warn("tick skipped", "error", errors.New("busy"), "count", 3, "dangling")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "books", fields["resource"])
	assert.Equal(t, "busy", fields["error"])
	assert.EqualValues(t, 3, fields["count"])
	assert.Equal(t, "dangling", fields["!BADKEY"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestNewWithWriter(t *testing.T) {
	t.Run("json encoding writes structured lines", func(tt *testing.T) {
		var buf bytes.Buffer
		l, err := NewWithWriter(Config{Level: "info", Encoding: "json"}, &buf)
		require.NoError(tt, err)

		l.Debug("hidden")
		l.Info("walk finished", "pages", 2)
		require.NoError(tt, l.Sync())

		assert.NotContains(tt, buf.String(), "hidden")
		assert.Contains(tt, buf.String(), `"pages":2`)
	})

	t.Run("unknown encoding is rejected", func(tt *testing.T) {
		_, err := NewWithWriter(Config{Encoding: "xml"}, &bytes.Buffer{})
		assert.Error(tt, err)
	})
}
