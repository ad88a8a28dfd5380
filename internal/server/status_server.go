package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

// StatusServer serves the local control API on the loopback interface
type StatusServer struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	done     chan struct{}
}

// NewStatusServer creates a new status server. Port 0 picks a free port.
func NewStatusServer(port int, handler http.Handler, logger *zap.Logger) *StatusServer {
	return &StatusServer{
		server: &http.Server{
			Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background
func (s *StatusServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Status server listening", zap.String("addr", s.Addr()))
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *StatusServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown status server: %w", err)
	}
	<-s.done
	s.logger.Info("Status server stopped")
	return nil
}
