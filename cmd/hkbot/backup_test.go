package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hkbot/internal/config"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "config.json")
	dbPath := filepath.Join(src, "hkbot.db")
	peoplePath := filepath.Join(src, "people.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{}`), 0o600))
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite"), 0o600))
	require.NoError(t, os.WriteFile(peoplePath, []byte("people: []"), 0o600))

	cfg := config.Defaults()
	cfg.Store.SQLitePath = dbPath
	cfg.Directory.Path = peoplePath

	files := backupFiles(cfg, cfgPath)
	require.ElementsMatch(t, []string{cfgPath, dbPath, peoplePath}, files)

	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	require.NoError(t, createTarGz(archive, files))

	dst := t.TempDir()
	targets := restoreTargets{
		config: filepath.Join(dst, "config.json"),
		db:     filepath.Join(dst, "data", "bot.db"),
		people: filepath.Join(dst, "people.yaml"),
		dir:    dst,
	}
	restored, err := extractTarGz(archive, targets)
	require.NoError(t, err)
	require.Len(t, restored, 3)

	data, err := os.ReadFile(targets.db)
	require.NoError(t, err)
	require.Equal(t, "sqlite", string(data))
	data, err = os.ReadFile(targets.people)
	require.NoError(t, err)
	require.Equal(t, "people: []", string(data))
}

func TestBackupFiles_PostgresSkipsDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{}`), 0o600))

	cfg := config.Defaults()
	cfg.Store.Driver = "postgres"
	cfg.Directory.Path = filepath.Join(dir, "missing.yaml")

	require.Equal(t, []string{cfgPath}, backupFiles(cfg, cfgPath))
}

func TestExtractTarGz_RejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.tar.gz")
	require.NoError(t, os.WriteFile(p, []byte("not gzip"), 0o600))
	_, err := extractTarGz(p, restoreTargets{dir: t.TempDir()})
	require.Error(t, err)
}
