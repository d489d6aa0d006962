package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func get(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
}

func TestManager_StartServesAllAndShutdown(t *testing.T) {
	m := NewManager(time.Second, zaptest.NewLogger(t))
	require.NoError(t, m.Add("api", okHandler("api"), testConfig()))
	require.NoError(t, m.Add("metrics", okHandler("metrics"), testConfig()))

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.True(t, m.IsRunning())

	assert.Equal(t, "api", get(t, m.Addr("api")))
	assert.Equal(t, "metrics", get(t, m.Addr("metrics")))
	assert.Empty(t, m.Addr("nope"))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_AddValidation(t *testing.T) {
	m := NewManager(0, nil)
	require.NoError(t, m.Add("api", okHandler("x"), testConfig()))
	assert.Error(t, m.Add("api", okHandler("x"), testConfig()))

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.Error(t, m.Add("late", okHandler("x"), testConfig()))
	assert.Error(t, m.Start())
}

func TestManager_StartWithoutServers(t *testing.T) {
	assert.Error(t, NewManager(0, nil).Start())
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(0, nil)
	require.NoError(t, m.Add("api", okHandler("x"), testConfig()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}

func TestManager_ListenFailureClosesOpenedListeners(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	m := NewManager(0, nil)
	require.NoError(t, m.Add("api", okHandler("x"), testConfig()))
	bad := testConfig()
	bad.Addr = busy.Addr().String()
	require.NoError(t, m.Add("metrics", okHandler("x"), bad))

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics")
	assert.False(t, m.IsRunning())
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager(time.Second, zaptest.NewLogger(t))
	require.NoError(t, m.Add("api", okHandler("api"), testConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsRunning, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "api", get(t, m.Addr("api")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}
