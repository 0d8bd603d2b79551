package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "env_config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, ""+
		"count_workers = 4\n"+
		"archive_folder = /data/archives\n"+
		"database_folder = /data/db\n"+
		"host = 127.0.0.1\n"+
		"port = 9000\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, s.CountWorkers)
	assert.Equal(t, "/data/archives", s.ArchiveFolder)
	assert.Equal(t, "/data/db", s.DatabaseFolder)
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "archive_folder = /data/archives\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 8000, s.Port)
	assert.GreaterOrEqual(t, s.CountWorkers, 2)
}

func TestLoadCountThreadsSynonym(t *testing.T) {
	path := writeConfig(t, "archive_folder = /a\ncount_threads = 6\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, s.CountWorkers)
}

func TestLoadWorkerFloor(t *testing.T) {
	path := writeConfig(t, "archive_folder = /a\ncount_workers = 1\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CountWorkers, "below two slots indexing can deadlock")
}

func TestLoadEnvironmentWins(t *testing.T) {
	t.Setenv("ARCHIVE_FOLDER", "/from/env")
	path := writeConfig(t, "archive_folder = /from/file\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", s.ArchiveFolder)
}

func TestLoadMissingArchiveFolder(t *testing.T) {
	path := writeConfig(t, "port = 9000\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
