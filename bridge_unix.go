//go:build unix

package svcctl

import (
	"context"
	"os"
	"syscall"
)

var stopSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}

func (b *Bridge) run(ctx context.Context, entry EntryPoint) error {
	return b.runWithSignals(ctx, entry)
}
