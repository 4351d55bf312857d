// Command echo is a minimal end-to-end wiring example: one Group with
// permessage-deflate and sliding windows enabled, echoing every text or
// binary message back to its sender and logging disconnects.
// A small, runnable demonstration program, adapted away from an
// HTTP-routed chat-room sample toward a bare connection API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrelws/core/group"
	"github.com/kestrelws/core/internal/logging"
	"github.com/kestrelws/core/protocol"
	"github.com/kestrelws/core/server"
)

func main() {
	logger := logging.Default()

	g := group.New(
		group.WithMaxPayload(1<<20),
		group.WithDeflate(true),
		group.WithTransfers(true),
		group.OnMessage(func(c *protocol.Connection, data []byte, opcode protocol.Opcode) {
			if err := c.Send(opcode, data, nil, nil); err != nil {
				logger.Warn("echo send failed", "err", err)
			}
		}),
		group.OnDisconnect(func(c *protocol.Connection, code int, reason []byte) {
			logger.Info("connection closed", "code", code, "reason", string(reason))
		}),
	)

	srv, err := server.New(":8080", g)
	if err != nil {
		logger.Error("server init failed", "err", err)
		os.Exit(1)
	}
	g.SetLoop(srv.Loop())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("listening", "addr", ":8080")
	if err := srv.Serve(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
