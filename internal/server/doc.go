// Package server implements the chatline TCP chat service.
//
// The implementation is organized into specialized files: the per-connection
// session state machine, the hub that tracks connected sessions and fans out
// broadcasts, the accepting listener with cooperative shutdown, wire framing
// helpers, and an optional WebSocket gateway that bridges browser clients onto
// the same hub.
package server
