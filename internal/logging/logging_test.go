package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "stage", "outline")
	assert.Contains(t, buf.String(), `"stage":"outline"`)

	buf.Reset()
	logger, err = New(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("dropped")
	assert.Empty(t, buf.String())

	_, err = New(&buf, "info", "xml")
	assert.Error(t, err)
	_, err = New(&buf, "loud", "text")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "****cdef", RedactValue("sk-abcdef"))
	assert.Equal(t, "****", RedactValue("abc"))
	assert.Equal(t, "Bearer ****5678", RedactValue("Bearer 12345678"))
	assert.Empty(t, RedactValue("   "))

	got := RedactFields(map[string]string{"api_key": "sk-123456", "model": "gpt-5.1", "Invite_Code": "INV-0001"})
	assert.Equal(t, map[string]string{"api_key": "****3456", "model": "gpt-5.1", "Invite_Code": "****0001"}, got)
}
