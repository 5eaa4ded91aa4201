//go:build windows

package svcctl

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
)

var stopSignals = []os.Signal{os.Interrupt}

// run hands control to the SCM when started as a Windows service and falls
// back to console signals otherwise
func (b *Bridge) run(ctx context.Context, entry EntryPoint) error {
	isService, err := svc.IsWindowsService()
	if err != nil || !isService {
		return b.runWithSignals(ctx, entry)
	}

	h := &scmHandler{bridge: b, ctx: ctx, entry: entry}
	if err := svc.Run(b.name, h); err != nil {
		return fmt.Errorf("running under the service control manager: %w", err)
	}
	return h.err
}

// scmHandler implements svc.Handler on top of a Bridge
type scmHandler struct {
	bridge *Bridge
	ctx    context.Context
	entry  EntryPoint
	err    error
}

// Execute implements the svc.Handler interface.
func (h *scmHandler) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	const acceptedCommands = svc.AcceptStop | svc.AcceptShutdown
	log := h.bridge.log

	elog, elogErr := eventlog.Open(h.bridge.name)
	if elogErr == nil {
		defer func() { _ = elog.Close() }()
	}
	report := func(msg string) {
		if elog != nil {
			_ = elog.Info(1, msg)
		}
	}

	changes <- svc.Status{State: svc.StartPending}

	done := make(chan error, 1)
	go func() {
		done <- h.entry.Run(h.ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: acceptedCommands}
	log.Info().Msg("service running under SCM")
	report("service started")

	finish := func(err error) (bool, uint32) {
		h.err = err
		changes <- svc.Status{State: svc.StopPending}
		if err != nil && !h.bridge.IsStopping() {
			log.Error().Err(err).Msg("entry point failed")
			if elog != nil {
				_ = elog.Error(1, fmt.Sprintf("service failed: %v", err))
			}
			return true, 1
		}
		report("service stopped")
		return false, 0
	}

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
				// Respond twice as per documentation
				time.Sleep(100 * time.Millisecond)
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				log.Info().Msg("received stop request from SCM")
				changes <- svc.Status{State: svc.StopPending}
				h.bridge.RequestStop()

				select {
				case err := <-done:
					return finish(err)
				case <-time.After(DefaultSCMStopWait):
					log.Warn().Msg("timeout waiting for entry point to stop")
					return finish(nil)
				}

			default:
				log.Warn().Int("cmd", int(c.Cmd)).Msg("unexpected service control command")
			}

		case err := <-done:
			return finish(err)
		}
	}
}
