// Package main provides the lookout CLI process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// Registers V4L2 video inputs with mediadevices.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/rbright/lookout/internal/app"
)

// main wires process signal handling to the application runner.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
