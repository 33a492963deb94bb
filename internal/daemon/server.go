// Package daemon runs the unix socket server that fronts the session
// registry. One goroutine per accepted connection; the registry is the
// only shared state.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/recovery"
	"github.com/holdover-sh/holdover/internal/registry"
)

// Server accepts client connections on a local socket and hands each one
// to a connection handler.
type Server struct {
	registry   *registry.Registry
	socketPath string
	listener   net.Listener
}

// New creates a server over the registry, listening at socketPath.
func New(reg *registry.Registry, socketPath string) *Server {
	return &Server{registry: reg, socketPath: socketPath}
}

// Listen binds the unix socket. A stale socket file from a dead daemon is
// removed; a live one means another daemon is running and is an error.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if conn, err := net.Dial("unix", s.socketPath); err == nil {
		conn.Close()
		return fmt.Errorf("daemon already running on %s", s.socketPath)
	}
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	s.listener = listener
	logger.Infof("daemon listening on %s", s.socketPath)
	return nil
}

// Serve accepts connections until the context is canceled, then kills all
// sessions and removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warnf("accept: %v", err)
			continue
		}
		recovery.Go("connection", func() { s.handleConn(conn) })
	}

	s.registry.Shutdown()
	_ = os.Remove(s.socketPath)
	logger.Info("daemon stopped")
	return nil
}

// Addr returns the listening address once Listen has succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
