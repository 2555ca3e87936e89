// Package server coordinates session registration, broadcast fan-out, and the
// shutdown sweep via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ErrAlreadyRegistered reports a double registration. The session state
// machine makes this impossible, so seeing it means a programming error, not a
// recoverable condition.
var ErrAlreadyRegistered = errors.New("session already registered")

// Hub is the single source of truth for who is connected. It maps live
// sessions to display names and fans broadcasts out to them. All mutation and
// iteration happens under the mutex; broadcasts deliver against a snapshot so
// a session leaving mid-broadcast is never observed twice and two sessions
// joining simultaneously cannot corrupt the map.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]string
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewHub creates an empty hub ready to track sessions.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[*Session]string),
		log:      log,
	}
}

// Register adds a named session. A session registers exactly once, at the end
// of its naming phase.
func (h *Hub) Register(s *Session, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; ok {
		return ErrAlreadyRegistered
	}
	h.sessions[s] = name
	h.log.Info("client registered", "addr", s.addr, "name", name, "total", len(h.sessions))
	return nil
}

// Deregister removes a session and reports whether it was present. Removing an
// absent session is a no-op so teardown paths can call it defensively.
func (h *Hub) Deregister(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return false
	}
	delete(h.sessions, s)
	h.log.Info("client deregistered", "addr", s.addr, "total", len(h.sessions))
	return true
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Names returns the display names currently registered, in no particular
// order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Values(h.sessions)
}

// snapshot returns the sessions registered at this instant, minus exclude.
func (h *Hub) snapshot(exclude *Session) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Without(lo.Keys(h.sessions), exclude)
}

// Broadcast delivers msg to every session registered when iteration starts,
// except exclude. Deliveries are independent: a failed recipient never blocks
// the rest. Sessions registering after the snapshot may or may not see msg.
func (h *Hub) Broadcast(msg string, exclude *Session) {
	for _, s := range h.snapshot(exclude) {
		if err := s.send(msg); err != nil {
			h.log.Debug("broadcast delivery failed", "addr", s.addr, "error", err)
		}
	}
}

// Track runs a session in its own goroutine under the hub's WaitGroup so
// shutdown can wait for every session to unwind. Sessions are fire-and-forget
// from the acceptor's perspective but never untracked.
func (h *Hub) Track(s *Session) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.Run()
	}()
}

// CloseAll tells every connected client the server is going away and drops its
// connection. Sessions are not deregistered here and do not announce their own
// departures; the closing notice covers them. The sweep iterates a snapshot so
// sessions unwinding concurrently cannot fault it.
func (h *Hub) CloseAll() {
	h.Broadcast("Closing server...", nil)
	for _, s := range h.snapshot(nil) {
		if err := s.Leave(false, false); err != nil {
			h.log.Error("forced leave failed", "addr", s.addr, "error", err)
		}
	}
}

// Wait blocks until every tracked session goroutine has exited or the timeout
// elapses.
func (h *Hub) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
