// Package server defines the wire framing shared by every transport: the
// line-erase control sequence, the colored prompt and notices, and the error
// taxonomy used to tell a departed peer from a genuine fault.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gookit/color"
)

// clearLine erases the receiving terminal's current input line and returns the
// cursor to column 0, so broadcast text replaces in-progress typing instead of
// interleaving with it.
const clearLine = "\x1b[1K\r"

// quitToken ends a session wherever it appears in a received line.
const quitToken = ":quit"

func init() {
	// The escape sequences are part of the protocol, so rendering must not
	// depend on whether output looks like a terminal.
	color.ForceOpenColor()
}

func promptGlyph() string {
	return color.Yellow.Render(">") + " "
}

func chatLine(name, msg string) string {
	return color.Cyan.Render(name) + ": " + msg
}

func joinedNotice(name string) string {
	return color.Green.Render(name + " has joined")
}

func leftNotice(name string) string {
	return color.Green.Render(name + " has left the chat")
}

// isDisconnect reports whether err means the peer has gone away (closed its
// end, broken pipe, reset), as opposed to a fault on our side. Disconnects are
// recovered locally and never propagate out of a session.
func isDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// isTeardownRace reports whether err means the socket was already closed when
// we touched it, which happens when the shutdown sweep closes a connection out
// from under its blocked session. Swallowed silently.
func isTeardownRace(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ENOTCONN) || errors.Is(err, syscall.EBADF) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
