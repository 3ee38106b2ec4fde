// Package server provides a tuned TCP listener for the gateway's HTTP/
// WebSocket endpoint. Charge points hold their connection open for the
// entire session (sometimes days), so the listener favors keepalive probing
// over the net/http defaults, which are tuned for short-lived
// request/response traffic. The accept backlog is the OS default;
// ListenBacklog only appears in the startup log line.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"syscall"

	"github.com/ocpp-csms/core/internal/config"
	"github.com/ocpp-csms/core/internal/logger"
)

// OptimizedTCPServer wraps an http.Server with a listener tuned for many
// long-lived connections: SO_REUSEADDR, TCP_NODELAY, and OS-level keepalive.
type OptimizedTCPServer struct {
	cfg      *config.ServerConfig
	server   *http.Server
	listener net.Listener
	logger   *logger.Logger
}

// New wraps handler in an http.Server bound to cfg's address and timeouts.
func New(cfg *config.ServerConfig, handler http.Handler, log *logger.Logger) *OptimizedTCPServer {
	return &OptimizedTCPServer{
		cfg: cfg,
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: log,
	}
}

func (s *OptimizedTCPServer) listen() (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
			})
		},
		KeepAlive: s.cfg.KeepAlivePeriod,
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return listener, nil
	}
	return &keepaliveListener{TCPListener: tcpListener, cfg: s.cfg}, nil
}

// keepaliveListener applies per-connection keepalive and buffer tuning on
// every Accept, since net.ListenConfig has no hook for accepted connections.
type keepaliveListener struct {
	*net.TCPListener
	cfg *config.ServerConfig
}

func (l *keepaliveListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}

	if l.cfg.EnableTCPKeepAlive {
		_ = conn.SetKeepAlive(true)
		_ = conn.SetKeepAlivePeriod(l.cfg.KeepAlivePeriod)
	}
	_ = conn.SetNoDelay(true)
	_ = conn.SetReadBuffer(64 * 1024)
	_ = conn.SetWriteBuffer(64 * 1024)

	return conn, nil
}

// Serve starts accepting connections and blocks until the server is shut
// down or the listener fails.
func (s *OptimizedTCPServer) Serve() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Infof("listening on %s (backlog=%d, keepalive=%v)", listener.Addr(), s.cfg.ListenBacklog, s.cfg.EnableTCPKeepAlive)
	return s.server.Serve(listener)
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// finish up to ctx's deadline. It does not close existing WebSocket
// connections — callers close those separately via the session registry.
func (s *OptimizedTCPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *OptimizedTCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
