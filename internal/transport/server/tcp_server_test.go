package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/core/internal/config"
	"github.com/ocpp-csms/core/internal/logger"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Host:               "127.0.0.1",
		Port:               0,
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ListenBacklog:      128,
		KeepAlivePeriod:    30 * time.Second,
		EnableTCPKeepAlive: true,
	}
}

func TestServeAndShutdown(t *testing.T) {
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)

	handler := http.NewServeMux()
	handler.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := New(testConfig(), handler, log)

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve()
	}()

	require.Eventually(t, func() bool {
		return srv.Addr() != nil
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, <-done, http.ErrServerClosed)
}

func TestServeBindsEphemeralPort(t *testing.T) {
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)

	srv := New(testConfig(), http.NewServeMux(), log)
	go func() { _ = srv.Serve() }()

	require.Eventually(t, func() bool {
		return srv.Addr() != nil
	}, time.Second, 10*time.Millisecond)

	assert.NotEqual(t, 0, srv.Addr().(*net.TCPAddr).Port)
	_ = srv.Shutdown(context.Background())
}
