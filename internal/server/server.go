package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

const shutdownGrace = 10 * time.Second

// Server is a restartable HTTP listener. Restart moves it to a new port
// without rebuilding the handler; in-flight requests on the old port are
// drained first.
type Server struct {
	mu      sync.Mutex
	handler http.Handler
	srv     *http.Server
	port    int
}

func New(handler http.Handler) *Server {
	return &Server{handler: handler}
}

// Port returns the actually bound port, which differs from the requested
// one when listening on port 0.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("server already running")
	}
	return s.startLocked(port)
}

func (s *Server) startLocked(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.port = ln.Addr().(*net.TCPAddr).Port

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: serve: %v", err)
		}
	}()
	return nil
}

// Restart drains the current listener and rebinds at the new port. If
// the new port cannot be bound the previous port is re-bound so the
// service stays reachable; only when that also fails is the server left
// down.
func (s *Server) Restart(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevPort := s.port
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		err := s.srv.Shutdown(ctx)
		cancel()
		if err != nil {
			log.Printf("server: shutdown during restart: %v", err)
		}
		s.srv = nil
	}

	if err := s.startLocked(port); err != nil {
		log.Printf("server: bind port %d failed: %v", port, err)
		if prevPort > 0 {
			if rerr := s.startLocked(prevPort); rerr == nil {
				return fmt.Errorf("bind port %d: %w (previous listener restored)", port, err)
			}
		}
		return fmt.Errorf("bind port %d: %w", port, err)
	}
	return nil
}

// Shutdown drains in-flight requests and releases the port.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
