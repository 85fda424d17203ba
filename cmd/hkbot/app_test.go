package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hkbot/internal/config"
)

func TestUnwind_RunsInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	var u unwind
	u.push(func() error { order = append(order, "tracing"); return nil })
	u.push(func() error { order = append(order, "store"); return errors.New("busy") })
	u.push(func() error { order = append(order, "objects"); return nil })

	err := u.run()
	require.ErrorContains(t, err, "busy")
	require.Equal(t, []string{"objects", "store", "tracing"}, order)

	require.NoError(t, u.run(), "a second run must not repeat cleanups")
	require.Len(t, order, 3)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Store.SQLitePath = filepath.Join(dir, "hkbot.db")
	cfg.Storage.LocalDir = filepath.Join(dir, "media")
	cfg.Media.DownloadDir = filepath.Join(dir, "downloads")
	cfg.Directory.Path = filepath.Join(dir, "people.yaml")
	cfg.Agents.Path = filepath.Join(dir, "agents.yaml")
	return cfg
}

func TestBuildApp_FailuresAfterStoreOpenReturnErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("storage", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Driver = "nfs"
		a, err := buildApp(context.Background(), cfg, logger)
		require.ErrorContains(t, err, "storage")
		require.Nil(t, a)
	})

	t.Run("agents", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.WriteFile(cfg.Agents.Path, []byte("agents: [unclosed"), 0o600))
		a, err := buildApp(context.Background(), cfg, logger)
		require.ErrorContains(t, err, "agents")
		require.Nil(t, a)
	})
}

func TestBuildApp_CloseReleasesStore(t *testing.T) {
	cfg := testConfig(t)
	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Equal(t, cfg.Storage.LocalDir, a.mediaDir())
	require.NoError(t, a.close(context.Background()))
	require.FileExists(t, cfg.Store.SQLitePath)
}
