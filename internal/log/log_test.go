package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Configure(Options{Level: LevelInfo}) })

	Info("sync finished", "created", 3, "mode", "manual")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sync finished", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, 3, line["created"])
	assert.Equal(t, "manual", line["mode"])
}

func TestErrorIncludesErr(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Configure(Options{Level: LevelInfo}) })

	Error("update failed", errors.New("boom"), "page_id", "p1")

	out := buf.String()
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"page_id":"p1"`)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Configure(Options{Level: LevelInfo}) })

	Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel(LevelDebug)
	Debug("shown", "k", "v")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestOddKVIgnored(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Configure(Options{Level: LevelInfo}) })

	Info("odd", "a", 1, "dangling")
	assert.NotContains(t, buf.String(), "dangling")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
