package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lob-engine/src/config"
)

func TestInitWritesJSONAndFile(t *testing.T) {
	t.Cleanup(func() {
		Close()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	path := filepath.Join(t.TempDir(), "engine.log")
	var stdout bytes.Buffer

	l := initTo(config.LoggingConfig{Level: "debug", Format: "json", File: path}, &stdout)
	comp := Component("journal")
	comp.Debug().Str("market", "BTC_USD").Msg("hello")
	Close()

	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	assert.NotNil(t, l)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "journal", entry["component"])
	assert.Equal(t, "BTC_USD", entry["market"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestInitFallsBackOnBadLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	var stdout bytes.Buffer

	initTo(config.LoggingConfig{Level: "loud"}, &stdout)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.Nil(t, logFile)
}

func TestInitReportsUnopenableFile(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	var stdout bytes.Buffer

	initTo(config.LoggingConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")}, &stdout)
	assert.Nil(t, logFile)
	assert.Contains(t, stdout.String(), "Failed to open log file")
}
