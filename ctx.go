package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// runContext ends after d or on the first interrupt, whichever comes first.
func runContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, d)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}
