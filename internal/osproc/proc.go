package osproc

import (
	"context"
	"errors"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// Identity identifies one process instance. CreateTime (Unix milliseconds)
// distinguishes it from a later process that reuses the same PID.
type Identity struct {
	PID        int
	CreateTime int64
	Name       string
}

// Inspect looks up a live process. It reports false for processes that do
// not exist or are zombies waiting to be reaped.
func Inspect(ctx context.Context, pid int) (Identity, bool, error) {
	if pid <= 0 {
		return Identity{}, false, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}

	if statuses, err := p.StatusWithContext(ctx); err == nil {
		for _, s := range statuses {
			if s == process.Zombie {
				return Identity{}, false, nil
			}
		}
	}

	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		// The process vanished between the lookup and the stat.
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}

	name, _ := p.NameWithContext(ctx)

	return Identity{PID: pid, CreateTime: created, Name: name}, true, nil
}

// Alive reports whether pid is a live process created at createTime.
// A zero createTime skips the identity check.
func Alive(ctx context.Context, pid int, createTime int64) (bool, error) {
	id, ok, err := Inspect(ctx, pid)
	if err != nil || !ok {
		return false, err
	}
	if createTime != 0 && id.CreateTime != createTime {
		return false, nil
	}
	return true, nil
}

// Owns reports whether the live process pid belongs to a service: its
// environment carries marker (a KEY=value pair) or it runs exactly
// cmdline. A process whose environment cannot be read and whose command
// line differs is not owned.
func Owns(ctx context.Context, pid int, marker string, cmdline []string) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, err
	}

	if environ, err := p.EnvironWithContext(ctx); err == nil && slices.Contains(environ, marker) {
		return true, nil
	}

	if len(cmdline) > 0 {
		if args, err := p.CmdlineSliceWithContext(ctx); err == nil && slices.Equal(args, cmdline) {
			return true, nil
		}
	}
	return false, nil
}
