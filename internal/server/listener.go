// Package server owns the listening socket and the accept loop, including the
// cooperative shutdown sequence.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Server accepts connections and hands each one to its own session goroutine.
// Accepts are bounded by a deadline poll so a cleared running flag is observed
// within one poll interval even when no connections arrive.
type Server struct {
	cfg     Config
	log     *slog.Logger
	hub     *Hub
	ln      *net.TCPListener
	running atomic.Bool
}

// NewServer binds and listens on the configured address. Go's net.Listen does
// not expose the listen(2) backlog argument, so cfg.Backlog is advisory; the
// kernel applies its own limit.
func NewServer(cfg Config, hub *Hub, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	return &Server{
		cfg: cfg,
		log: log,
		hub: hub,
		ln:  ln.(*net.TCPListener),
	}, nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Running reports whether the accept loop is taking new connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Run accepts connections until ctx is canceled, then performs the shutdown
// sequence: stop accepting, notify and drop every registered session, close
// the listener, and wait (bounded) for session goroutines to unwind.
func (s *Server) Run(ctx context.Context) error {
	s.running.Store(true)
	s.log.Info("server available", "addr", s.Addr(), "backlog", s.cfg.Backlog)

	go func() {
		<-ctx.Done()
		s.running.Store(false)
	}()

	s.acceptLoop()
	return s.shutdown()
}

// acceptLoop polls the listener under a deadline so the running flag is
// re-checked at least once per interval.
func (s *Server) acceptLoop() {
	for s.running.Load() {
		if err := s.ln.SetDeadline(time.Now().Add(s.cfg.AcceptPoll)); err != nil {
			s.log.Error("set accept deadline failed", "error", err)
			return
		}

		conn, err := s.ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if isTeardownRace(err) {
				return
			}
			s.log.Error("accept failed", "error", err)
			continue
		}
		s.Join(conn)
	}
}

// Join hands an established connection to its own session goroutine. A
// connection arriving after the running flag clears is closed instead, so no
// session is spawned during the shutdown race. The gateway feeds upgraded
// WebSocket connections through the same path.
func (s *Server) Join(conn net.Conn) {
	if !s.running.Load() {
		_ = conn.Close()
		return
	}
	s.log.Info("client connected", "addr", conn.RemoteAddr().String())
	s.hub.Track(NewSession(conn, s.hub, s.log, s.cfg.BufferSize))
}

func (s *Server) shutdown() error {
	s.log.Info("shutting down")
	s.hub.CloseAll()

	if err := s.ln.Close(); err != nil && !isTeardownRace(err) {
		return err
	}
	if err := s.hub.Wait(s.cfg.ShutdownTimeout); err != nil {
		s.log.Warn("sessions still unwinding at shutdown timeout")
		return err
	}
	s.log.Info("server closed")
	return nil
}
