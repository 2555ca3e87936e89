package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbarrow/chatline/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires configuration, logging, the hub, the TCP server, and the optional
// WebSocket gateway, then blocks until an interrupt triggers shutdown.
// Returning the error instead of exiting directly lets every defer execute.
func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	hub := server.NewHub(log)
	srv, err := server.NewServer(cfg, hub, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.GatewayAddr != "" {
		gw := server.NewGateway(cfg, srv, log)
		go func() {
			if err := gw.Start(); err != nil {
				log.Error("gateway failed", "error", err)
			}
		}()
		defer func() {
			if err := gw.Shutdown(cfg.ShutdownTimeout); err != nil {
				log.Error("gateway shutdown failed", "error", err)
			}
		}()
	}

	return srv.Run(ctx)
}
