// Command subctl controls a paired submarine over Bluetooth.
//
// Usage:
//
//	subctl status
//	subctl dive --depth 50 --offset 10 [--wait]
//	subctl cancel
//	subctl data
//	subctl watch
//	subctl init-config
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
