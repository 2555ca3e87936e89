// Package server manages individual client sessions: the naming handshake,
// the chat read loop, and teardown on quit, disconnect, or error.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// State identifies where a session is in its lifecycle. Transitions never skip
// a forward state; Leaving and Closed are reachable from any prior state.
type State int32

const (
	StateUnauthenticated State = iota
	StateNaming
	StateChatting
	StateLeaving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateNaming:
		return "naming"
	case StateChatting:
		return "chatting"
	case StateLeaving:
		return "leaving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// roster is the non-owning view of the hub a session needs: it can add itself,
// remove itself, and ask for a broadcast, nothing more.
type roster interface {
	Register(s *Session, name string) error
	Deregister(s *Session) bool
	Broadcast(msg string, exclude *Session)
}

// Session owns one client connection and runs its state machine. The display
// name is set exactly once, at the end of the naming phase, before the session
// ever appears in the hub.
type Session struct {
	id    string
	conn  net.Conn
	addr  string
	hub   roster
	log   *slog.Logger
	buf   []byte
	name  string
	state atomic.Int32
}

// NewSession wraps an accepted connection. bufferSize bounds a single read;
// longer messages truncate, a limitation the protocol does not guard against.
func NewSession(conn net.Conn, hub roster, log *slog.Logger, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		addr: conn.RemoteAddr().String(),
		hub:  hub,
		log:  log,
		buf:  make([]byte, bufferSize),
	}
}

// State returns the current lifecycle state. The state is read concurrently by
// broadcast deliveries deciding how to frame their writes.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Name returns the display name, empty until the naming phase completes.
func (s *Session) Name() string {
	return s.name
}

// send frames msg for the wire: the line-erase sequence first, then the
// payload. While chatting, a non-empty payload gets a trailing newline and
// every send ends with the colored prompt glyph; before that, sends are a
// plain clear-and-write.
func (s *Session) send(msg string) error {
	var b strings.Builder
	b.WriteString(clearLine)
	if s.State() == StateChatting {
		if msg != "" {
			b.WriteString(msg)
			b.WriteByte('\n')
		}
		b.WriteString(promptGlyph())
	} else {
		b.WriteString(msg)
	}
	_, err := s.conn.Write([]byte(b.String()))
	return err
}

// recv reads one buffer's worth from the connection. While chatting, each read
// is followed by an empty send so the client's prompt is redrawn.
func (s *Session) recv() (string, error) {
	n, err := s.conn.Read(s.buf)
	if err != nil {
		return "", err
	}
	msg := string(s.buf[:n])
	if s.State() == StateChatting {
		if err := s.send(""); err != nil {
			return "", err
		}
	}
	return msg, nil
}

// join runs the naming phase: prompt for a name, welcome the client, announce
// it to everyone already connected, and only then register. A session is never
// in the hub before its name is set.
func (s *Session) join() error {
	s.setState(StateNaming)

	if err := s.send("Enter your name\n> "); err != nil {
		return err
	}
	line, err := s.recv()
	if err != nil {
		return err
	}
	s.name = strings.TrimSpace(line)

	if err := s.send(fmt.Sprintf("Hi %s! Type :quit to leave\n", s.name)); err != nil {
		return err
	}

	s.hub.Broadcast(joinedNotice(s.name), nil)
	return s.hub.Register(s, s.name)
}

// Leave disconnects the client. When announce is true the session removes
// itself from the hub and, if it was actually registered, broadcasts its
// departure. The shutdown sweep passes announce=false: forcibly dropped
// sessions stay in the hub and leave silently under the closing notice already
// sent. gone marks the peer as already disconnected, skipping the farewell.
func (s *Session) Leave(announce, gone bool) error {
	s.setState(StateLeaving)

	if !gone {
		if err := s.send("You will be disconnected. Bye!"); err != nil && !isDisconnect(err) && !isTeardownRace(err) {
			return err
		}
	}
	if err := s.shutdownConn(); err != nil {
		return err
	}
	if announce && s.hub.Deregister(s) {
		s.hub.Broadcast(leftNotice(s.name), nil)
	}
	return nil
}

// shutdownConn closes the socket in both directions. Errors meaning the peer
// already severed the connection are swallowed; anything else escalates.
func (s *Session) shutdownConn() error {
	defer s.setState(StateClosed)

	if tc, ok := s.conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil && !isDisconnect(err) && !isTeardownRace(err) {
			return err
		}
	}
	if err := s.conn.Close(); err != nil && !isDisconnect(err) && !isTeardownRace(err) {
		return err
	}
	s.log.Info("client left", "addr", s.addr, "session", s.id)
	return nil
}

// run drives the state machine to completion and reports how it ended.
func (s *Session) run() error {
	if err := s.join(); err != nil {
		return err
	}
	s.setState(StateChatting)
	if err := s.send(""); err != nil {
		return err
	}

	for {
		line, err := s.recv()
		if err != nil {
			return err
		}
		switch {
		case strings.Contains(line, quitToken):
			// The token quits wherever it appears in the line.
			return s.Leave(true, false)
		case strings.TrimSpace(line) == "":
			continue
		default:
			s.hub.Broadcast(chatLine(s.name, strings.TrimSpace(line)), s)
		}
	}
}

// Run executes the session and contains its errors: a peer disconnect becomes
// a normal departure, a socket closed under us by the shutdown sweep is
// swallowed, and anything else is logged and terminates only this session.
// The hub entry and the socket are released on every exit path.
func (s *Session) Run() {
	defer func() {
		if s.State() != StateClosed {
			s.hub.Deregister(s)
			_ = s.conn.Close()
			s.setState(StateClosed)
		}
	}()

	err := s.run()
	switch {
	case err == nil:
	case isDisconnect(err):
		s.log.Info("client disconnected", "addr", s.addr, "session", s.id)
		if lerr := s.Leave(true, true); lerr != nil {
			s.log.Error("cleanup after disconnect failed", "addr", s.addr, "error", lerr)
		}
	case isTeardownRace(err):
		// The shutdown sweep closed the socket while we were blocked on it.
	default:
		s.log.Error("session failed", "addr", s.addr, "session", s.id, "error", err)
	}
}
