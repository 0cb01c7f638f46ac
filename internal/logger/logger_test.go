package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Output = &buf

	log, err := NewLogger(cfg)
	require.NoError(t, err)

	WithFileOperation(log, "muffin/a.jpg", "compress").Info("done")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "done", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "muffin/a.jpg", entry["file"])
	assert.Equal(t, "compress", entry["operation"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = "warn"
	cfg.Output = &buf

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	assert.Empty(t, buf.String())

	WithFolder(log, "muffin").Warn("folder missing")
	assert.Contains(t, buf.String(), "folder missing")
	assert.Contains(t, buf.String(), "folder=muffin")
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "compressor.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Console = false

	log, err := NewLogger(cfg)
	require.NoError(t, err)

	WithOperation(log, "scan").Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written to file"`)
}

func TestNewLogger_TextConsoleWithJSONFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "compressor.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Output = &buf

	log, err := NewLogger(cfg)
	require.NoError(t, err)

	WithFolder(log, "chihuahua").Info("both outputs")
	log.Debug("below level")

	assert.Contains(t, buf.String(), "folder=chihuahua")
	assert.NotContains(t, buf.String(), "below level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "both outputs", entry["message"])
	assert.Equal(t, "chihuahua", entry["folder"])
}
