//go:build !unix && !windows

package svcctl

import (
	"context"
	"os"
)

var stopSignals = []os.Signal{os.Interrupt}

func (b *Bridge) run(ctx context.Context, entry EntryPoint) error {
	return b.runWithSignals(ctx, entry)
}
