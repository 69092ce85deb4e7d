package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDir points the package at a temporary log directory and resets
// global state, returning a cleanup function.
func setupTestDir(t *testing.T) func() {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origInitOnce := initOnce
	origRunID := runID
	origRunIDOnce := runIDOnce

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	runID = ""
	runIDOnce = sync.Once{}

	// Pre-arm initOnce so initLogDirectory keeps our tempDir
	initOnce.Do(func() {})

	return func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = origInitOnce
		runID = origRunID
		runIDOnce = origRunIDOnce
	}
}

func TestNewLogger(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	require.NoError(t, err)
	defer logger.Close()

	assert.NotEmpty(t, logger.RunID())
	assert.NotEmpty(t, logger.LogPath())
	assert.True(t, strings.HasSuffix(logger.LogPath(), "-wabridge.log"))
}

func TestLoggerWritesAllLevels(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("driver")
	require.NoError(t, err)

	logger.Debugf("debug %d", 1)
	logger.Infof("info %s", "message")
	logger.Warnf("warn")
	logger.Errorf("error: %v", os.ErrNotExist)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "[driver] [DEBUG] debug 1")
	assert.Contains(t, content, "[driver] [INFO] info message")
	assert.Contains(t, content, "[driver] [WARN] warn")
	assert.Contains(t, content, "[driver] [ERROR] error:")
}

func TestSharedRunID(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	first, err := NewLogger("relay")
	require.NoError(t, err)
	defer first.Close()

	second, err := NewLogger("store")
	require.NoError(t, err)
	defer second.Close()

	// Components of one run share the same log file
	assert.Equal(t, first.RunID(), second.RunID())
	assert.Equal(t, first.LogPath(), second.LogPath())
}

func TestCloseIsIdempotent(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestGetLogDirectory(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	dir, err := GetLogDirectory()
	require.NoError(t, err)
	assert.Equal(t, logDir, dir)
	assert.DirExists(t, filepath.Clean(dir))
}
