package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, address string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \""+address+"\"\n"), 0o600))
}

func TestWatcherStartLoadsInitialConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avauth.yaml")
	writeConfigFile(t, path, ":9090")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestWatcherStartFailsOnMissingFile(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcherStartFailsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avauth.yaml")
	writeConfigFile(t, path, ":9090")

	var mu sync.Mutex
	var reloaded *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		reloaded = cfg
		mu.Unlock()
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	writeConfigFile(t, path, ":7070")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloaded != nil && reloaded.Server.Address == ":7070"
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, ":7070", w.LastConfig().Server.Address)
}

func TestWatcherKeepsPreviousConfigOnBadReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avauth.yaml")
	writeConfigFile(t, path, ":9090")

	var mu sync.Mutex
	var gotErr error
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			mu.Lock()
			gotErr = err
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, ":9090", w.LastConfig().Server.Address)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avauth.yaml")
	writeConfigFile(t, path, ":9090")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
