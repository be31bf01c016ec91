// ABOUTME: Stand-in delegate peer for end-to-end testing of remote actions
// ABOUTME: Usage: fake-delegate [--socket /tmp/anf_python.sock] [--delay 0s]

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/2389/anf-daemon/internal/listener"
)

func main() {
	socket := pflag.StringP("socket", "s", "/tmp/anf_python.sock", "unix socket to serve")
	delay := pflag.Duration("delay", 0, "artificial latency added to every reply")
	verbose := pflag.BoolP("verbose", "v", false, "log every request")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*socket, *delay, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(socket string, delay time.Duration, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := newPeer(delay, logger)
	l := listener.New(socket, listener.HandlerFunc(p.HandleRaw), logger.With("component", "listener"))

	logger.Info("fake delegate serving", "socket", socket, "delay", delay)
	return l.Serve(ctx)
}
