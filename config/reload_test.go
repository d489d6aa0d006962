package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReloadManager_InitialSnapshot(t *testing.T) {
	m := NewReloadManager(DefaultConfig())

	h := m.History()
	require.Len(t, h, 1)
	assert.Equal(t, 1, h[0].Version)
	assert.Equal(t, "init", h[0].Source)
	assert.NotEmpty(t, h[0].Checksum)
	assert.Equal(t, 1, m.Version())
}

func TestReloadManager_CurrentIsCopy(t *testing.T) {
	m := NewReloadManager(DefaultConfig())

	c := m.Current()
	c.Log.Level = "debug"
	assert.Equal(t, "info", m.Current().Log.Level)
}

func TestReloadManager_ApplyNotifiesHooks(t *testing.T) {
	m := NewReloadManager(DefaultConfig(), WithReloadLogger(zaptest.NewLogger(t)))

	var gotOld, gotNew string
	m.OnReload(func(oldConfig, newConfig *Config) error {
		gotOld, gotNew = oldConfig.Log.Level, newConfig.Log.Level
		return nil
	})

	next := DefaultConfig()
	next.Log.Level = "debug"
	require.NoError(t, m.Apply(next, "test"))

	assert.Equal(t, "info", gotOld)
	assert.Equal(t, "debug", gotNew)
	assert.Equal(t, "debug", m.Current().Log.Level)
	assert.Equal(t, 2, m.Version())
}

func TestReloadManager_ApplyUnchangedIsNoop(t *testing.T) {
	m := NewReloadManager(DefaultConfig())
	var calls atomic.Int32
	m.OnReload(func(_, _ *Config) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, m.Apply(DefaultConfig(), "test"))
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, m.Version())
}

func TestReloadManager_ApplyRejectsInvalid(t *testing.T) {
	m := NewReloadManager(DefaultConfig())

	bad := DefaultConfig()
	bad.Registry.Backend = "etcd"
	require.Error(t, m.Apply(bad, "test"))
	assert.Equal(t, "memory", m.Current().Registry.Backend)

	require.Error(t, m.Apply(nil, "test"))
}

func TestReloadManager_HookFailureRollsBack(t *testing.T) {
	m := NewReloadManager(DefaultConfig())

	var seen []string
	m.OnReload(func(_, newConfig *Config) error {
		seen = append(seen, newConfig.Log.Level)
		if newConfig.Log.Level == "error" {
			return errors.New("refused")
		}
		return nil
	})

	next := DefaultConfig()
	next.Log.Level = "error"
	err := m.Apply(next, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rolled back")

	assert.Equal(t, "info", m.Current().Log.Level)
	// 先通知新配置，回滚时再以旧配置通知
	assert.Equal(t, []string{"error", "info"}, seen)

	h := m.History()
	assert.Equal(t, "rollback", h[len(h)-1].Source)
}

func TestReloadManager_HookPanicRollsBack(t *testing.T) {
	m := NewReloadManager(DefaultConfig())
	m.OnReload(func(_, newConfig *Config) error {
		if newConfig.Log.Level == "warn" {
			panic("boom")
		}
		return nil
	})

	next := DefaultConfig()
	next.Log.Level = "warn"
	require.Error(t, m.Apply(next, "test"))
	assert.Equal(t, "info", m.Current().Log.Level)
}

func TestReloadManager_HistoryBounded(t *testing.T) {
	m := NewReloadManager(DefaultConfig(), WithMaxHistory(3))
	for i := 0; i < 5; i++ {
		next := DefaultConfig()
		next.Registry.AsyncWorkers = i + 10
		require.NoError(t, m.Apply(next, "test"))
	}

	h := m.History()
	require.Len(t, h, 3)
	assert.Equal(t, 6, h[2].Version)
	assert.Equal(t, 14, h[2].Config.Registry.AsyncWorkers)
}

func TestDiff(t *testing.T) {
	oldConfig := DefaultConfig()
	newConfig := DefaultConfig()
	newConfig.Log.Level = "debug"
	newConfig.Server.HTTPPort = 9000
	newConfig.Auth.JWTSecret = "s3cret"
	newConfig.Validation.AllowedHosts = []string{"localhost"}

	changes := Diff(oldConfig, newConfig)
	byPath := make(map[string]Change, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Len(t, byPath, 4)

	assert.False(t, byPath["Log.Level"].RequiresRestart)
	assert.False(t, byPath["Validation.AllowedHosts"].RequiresRestart)
	assert.True(t, byPath["Server.HTTPPort"].RequiresRestart)
	assert.Equal(t, 9000, byPath["Server.HTTPPort"].NewValue)

	secret := byPath["Auth.JWTSecret"]
	assert.Equal(t, redacted, secret.OldValue)
	assert.Equal(t, redacted, secret.NewValue)
}

func TestIsReloadable(t *testing.T) {
	assert.True(t, IsReloadable("Log.Level"))
	assert.True(t, IsReloadable("Validation.Timeout"))
	assert.False(t, IsReloadable("Registry.Backend"))
	assert.False(t, IsReloadable("Validation.DisableInvalid"))
}

func TestReloadManager_ReloadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0644))

	m := NewReloadManager(DefaultConfig(), WithReloadPath(path))
	require.NoError(t, m.ReloadFromFile())
	assert.Equal(t, "warn", m.Current().Log.Level)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: [bad\n"), 0644))
	require.Error(t, m.ReloadFromFile())
	assert.Equal(t, "warn", m.Current().Log.Level)
}

func TestReloadManager_ReloadFromFileWithoutPath(t *testing.T) {
	m := NewReloadManager(DefaultConfig())
	assert.Error(t, m.ReloadFromFile())
}

func TestReloadManager_WatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))

	m := NewReloadManager(DefaultConfig(),
		WithReloadPath(path),
		WithDebounce(20*time.Millisecond),
		WithReloadLogger(zaptest.NewLogger(t)),
	)
	applied := make(chan string, 4)
	m.OnReload(func(_, newConfig *Config) error {
		applied <- newConfig.Log.Level
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Error(t, m.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	select {
	case level := <-applied:
		assert.Equal(t, "debug", level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not applied")
	}

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestReloadManager_StartWithoutPath(t *testing.T) {
	m := NewReloadManager(DefaultConfig())
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}
