package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http", cfg.Name)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Empty(t, cfg.TLSCertFile)
}

func TestNewManager_NilLogger(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), nil)
	require.NotNil(t, m)
	assert.True(t, m.IsRunning())
	assert.Equal(t, ":8080", m.Addr())
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager(okHandler(), testConfig(), zaptest.NewLogger(t))
	require.NoError(t, m.Start())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	// 重复关闭无副作用
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.ErrorIs(t, m.Start(), ErrAlreadyStarted)
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Start(), ErrClosed)
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), ErrClosed)
}

func TestManager_StartTLSMissingCert(t *testing.T) {
	cfg := testConfig()
	cfg.TLSCertFile = "/nonexistent/cert.pem"
	cfg.TLSKeyFile = "/nonexistent/key.pem"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load certificate")
	// 证书失败不占用端口，仍可关闭
	assert.True(t, m.IsRunning())
	assert.Equal(t, cfg.Addr, m.Addr())
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager(okHandler(), testConfig(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + m.Addr() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_RunListenError(t *testing.T) {
	first := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	err := second.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
