package svcctl

import (
	"context"
	"errors"
)

// Wait blocks until the record of name reaches one of the given statuses or
// ctx is done. With no statuses, it waits for the next change.
//
// Example:
//
//	// Wait for any change
//	st, err := m.Wait(ctx, "demo")
//
//	// Wait for the service to settle
//	st, err := m.Wait(ctx, "demo", StatusRunning, StatusFailed)
func (m *Manager) Wait(ctx context.Context, name string, statuses ...Status) (ServiceState, error) {
	events, cleanup, err := m.Watch(ctx, name)
	if err != nil {
		return ServiceState{}, err
	}
	defer func() { _ = cleanup() }()

	initial := true
	for {
		select {
		case event, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return ServiceState{}, opErr(OpStatus, name, err)
				}
				return ServiceState{}, opErr(OpStatus, name, errors.New("watch closed"))
			}
			if event.Err != nil {
				return ServiceState{}, event.Err
			}

			if len(statuses) == 0 {
				if initial {
					initial = false
					continue
				}
				return event.State, nil
			}
			initial = false

			for _, s := range statuses {
				if event.State.Status == s {
					return event.State, nil
				}
			}

		case <-ctx.Done():
			return ServiceState{}, opErr(OpStatus, name, ctx.Err())
		}
	}
}
