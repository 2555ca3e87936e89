// Package server exposes the WebSocket gateway: an HTTP endpoint that
// upgrades browser connections and feeds them into the same hub as TCP
// clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Joiner is what the gateway needs from the acceptor: a way to hand over an
// established connection.
type Joiner interface {
	Join(net.Conn)
}

// Gateway bridges browser clients onto the chat over WebSocket. Upgraded
// connections speak the identical wire text as TCP clients; terminal-emulating
// web clients render the escape sequences.
type Gateway struct {
	srv    *http.Server
	joiner Joiner
	log    *slog.Logger
}

// NewGateway wires the health and upgrade routes onto an HTTP server with the
// usual production timeouts.
func NewGateway(cfg Config, joiner Joiner, log *slog.Logger) *Gateway {
	g := &Gateway{joiner: joiner, log: log}

	policy := newOriginPolicy(cfg.AllowedOrigins, log)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.BufferSize,
		WriteBufferSize: cfg.BufferSize,
		CheckOrigin:     policy.check,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleHealth)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		g.handleUpgrade(upgrader, w, r)
	})

	g.srv = &http.Server{
		Addr:         cfg.GatewayAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return g
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chatline gateway is running")
}

// handleUpgrade promotes the HTTP request to a WebSocket connection and hands
// it to the acceptor like any freshly accepted TCP connection.
func (g *Gateway) handleUpgrade(upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	g.joiner.Join(newWSConn(ws))
}

// Handler exposes the route mux, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.srv.Handler
}

// Start begins serving and blocks until the gateway is shut down.
func (g *Gateway) Start() error {
	g.log.Info("gateway available", "addr", g.srv.Addr)
	if err := g.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the gateway, waiting up to timeout for in-flight requests.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.srv.Shutdown(ctx)
}
