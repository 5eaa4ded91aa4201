package svcctl

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// recordFingerprint identifies a record version for change detection
type recordFingerprint struct {
	status    Status
	pid       int
	updatedAt time.Time
	lastError string
}

func fingerprint(st ServiceState) recordFingerprint {
	return recordFingerprint{
		status:    st.Status,
		pid:       st.PID,
		updatedAt: st.UpdatedAt,
		lastError: st.LastError,
	}
}

// Watch streams changes of the state record for name. The current record
// is sent first; a removed record is reported as NotInstalled. Watch sees
// only persisted transitions: a process dying unobserved shows up after the
// next operation or Status call reconciles it.
func (m *Manager) Watch(ctx context.Context, name string) (<-chan WatchEvent, WatchCleanupFunc, error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, opErr(OpStatus, name, err)
	}

	dir := m.store.Dir
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, nil, opErr(OpStatus, name, wrapFSError(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, opErr(OpStatus, name, err)
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, opErr(OpStatus, name, err)
	}

	ch := make(chan WatchEvent, 10)
	recordFile := filepath.Base(m.store.RecordPath(name))

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	var (
		last    recordFingerprint
		hasLast bool
	)

	// send reports whether the watch should keep running
	send := func(ev WatchEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-sctx.Stopping():
			return false
		case <-ctx.Done():
			return false
		}
	}

	readAndSend := func() bool {
		st, ok, err := m.store.Load(name)
		if err != nil {
			return send(WatchEvent{Err: opErr(OpStatus, name, err)})
		}
		if !ok {
			st = ServiceState{Name: name, Status: StatusNotInstalled}
		}

		fp := fingerprint(st)
		if hasLast && fp == last {
			return true
		}
		last, hasLast = fp, true
		return send(WatchEvent{State: st})
	}

	sctx.Go(func(sctx *stopper.Context) error {
		if !readAndSend() {
			return nil
		}

		debounce := time.NewTimer(DefaultWatchDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case <-ctx.Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) == recordFile {
					debounce.Reset(DefaultWatchDebounce)
				}

			case <-debounce.C:
				if !readAndSend() {
					return nil
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !send(WatchEvent{Err: err}) {
					return nil
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
