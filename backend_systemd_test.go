//go:build linux

package svcctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSystemctl emulates the subset of systemctl the backend uses
type fakeSystemctl struct {
	mu      sync.Mutex
	calls   []string
	units   map[string]*unitStatus
	files   map[string]string
	failOn  map[string]error
	onStart func(u *unitStatus)
	onStop  func(u *unitStatus)
}

func newFakeSystemctl() *fakeSystemctl {
	return &fakeSystemctl{
		units:  make(map[string]*unitStatus),
		files:  make(map[string]string),
		failOn: make(map[string]error),
		onStart: func(u *unitStatus) {
			u.ActiveState, u.SubState, u.MainPID, u.Result = "active", "running", os.Getpid(), "success"
		},
		onStop: func(u *unitStatus) {
			u.ActiveState, u.SubState, u.MainPID = "inactive", "dead", 0
		},
	}
}

func (f *fakeSystemctl) run(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, strings.Join(args, " "))
	if err := f.failOn[args[0]]; err != nil {
		return "", err
	}

	unit := args[len(args)-1]
	u := f.units[unit]

	switch args[0] {
	case "daemon-reload":
		for path := range f.files {
			name := path[strings.LastIndex(path, "/")+1:]
			if _, ok := f.units[name]; !ok {
				f.units[name] = &unitStatus{LoadState: "loaded", ActiveState: "inactive", SubState: "dead"}
			}
		}
		for name := range f.units {
			found := false
			for path := range f.files {
				if strings.HasSuffix(path, "/"+name) {
					found = true
				}
			}
			if !found {
				delete(f.units, name)
			}
		}
	case "start":
		if u == nil {
			return "", fmt.Errorf("%w: Unit %s not found.", ErrNotInstalled, unit)
		}
		f.onStart(u)
	case "stop":
		if u != nil {
			f.onStop(u)
		}
	case "show":
		if u == nil {
			return "LoadState=not-found\nActiveState=inactive\nSubState=dead\nResult=success\nMainPID=0\n", nil
		}
		return fmt.Sprintf("LoadState=%s\nActiveState=%s\nSubState=%s\nResult=%s\nMainPID=%d\n",
			u.LoadState, u.ActiveState, u.SubState, u.Result, u.MainPID), nil
	}
	return "", nil
}

func (f *fakeSystemctl) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newFakeSystemdBackend(t *testing.T) (*systemdBackend, *fakeSystemctl) {
	t.Helper()
	cfg := DefaultBackendConfig(BackendSystemd)
	cfg.UnitDir = "/etc/systemd/system"
	cfg.LogDir = ""
	cfg.StartSettle = time.Millisecond
	cfg.StartTimeout = time.Second
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Logger = zerolog.Nop()

	fake := newFakeSystemctl()
	b := &systemdBackend{cfg: cfg, log: cfg.Logger, systemctl: fake.run}
	b.writeFile = func(_ context.Context, path string, data []byte) error {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		fake.files[path] = string(data)
		return nil
	}
	b.removeFile = func(_ context.Context, path string) error {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		delete(fake.files, path)
		return nil
	}
	return b, fake
}

func TestSystemdBackendLifecycle(t *testing.T) {
	b, fake := newFakeSystemdBackend(t)
	ctx := context.Background()

	st := ServiceState{Name: "api", AutoStart: true, Command: []string{"/usr/bin/api"}}
	path, err := b.Install(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, "/etc/systemd/system/api.service", path)
	assert.Contains(t, fake.files[path], "ExecStart=/usr/bin/api")
	assert.True(t, fake.called("daemon-reload"))
	assert.True(t, fake.called("enable api.service"))

	obs, err := b.QueryStatus(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, obs.Status)

	obs, err = b.Start(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, obs.Status)
	assert.Equal(t, os.Getpid(), obs.PID)
	assert.NotZero(t, obs.PIDStartTime)

	report, err := b.Stop(ctx, st)
	require.NoError(t, err)
	assert.False(t, report.Forced)
	assert.False(t, report.AlreadyStopped)

	report, err = b.Stop(ctx, st)
	require.NoError(t, err)
	assert.True(t, report.AlreadyStopped)

	st.InstalledPath = path
	require.NoError(t, b.Uninstall(ctx, st))
	assert.True(t, fake.called("disable api.service"))
	assert.Empty(t, fake.files)

	obs, err = b.QueryStatus(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, StatusNotInstalled, obs.Status)
}

func TestSystemdBackendManualStartSkipsEnable(t *testing.T) {
	b, fake := newFakeSystemdBackend(t)
	_, err := b.Install(context.Background(), ServiceState{Name: "api", Command: []string{"/usr/bin/api"}})
	require.NoError(t, err)
	assert.False(t, fake.called("enable"))
}

func TestSystemdBackendInstallRollsBack(t *testing.T) {
	b, fake := newFakeSystemdBackend(t)
	fake.failOn["enable"] = fmt.Errorf("%w: Access denied", ErrPermission)

	_, err := b.Install(context.Background(), ServiceState{Name: "api", AutoStart: true, Command: []string{"/usr/bin/api"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermission)
	assert.Empty(t, fake.files, "unit file should be removed on failure")
}

func TestSystemdBackendStartFails(t *testing.T) {
	b, fake := newFakeSystemdBackend(t)
	fake.onStart = func(u *unitStatus) {
		u.ActiveState, u.SubState, u.Result = "failed", "failed", "exit-code"
	}

	st := ServiceState{Name: "api", Command: []string{"/usr/bin/api"}}
	_, err := b.Install(context.Background(), st)
	require.NoError(t, err)

	obs, err := b.Start(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, obs.Status)
	assert.Contains(t, err.Error(), "exit-code")

	obs, err = b.QueryStatus(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, obs.Status)
}

func TestSystemdBackendStartTimeout(t *testing.T) {
	b, fake := newFakeSystemdBackend(t)
	b.cfg.StartTimeout = 100 * time.Millisecond
	fake.onStart = func(u *unitStatus) {
		u.ActiveState, u.SubState = "activating", "start"
	}

	st := ServiceState{Name: "api", Command: []string{"/usr/bin/api"}}
	_, err := b.Install(context.Background(), st)
	require.NoError(t, err)

	_, err = b.Start(context.Background(), st)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSystemdBackendStopForced(t *testing.T) {
	b, fake := newFakeSystemdBackend(t)
	fake.onStop = func(u *unitStatus) {
		u.ActiveState, u.SubState, u.MainPID, u.Result = "failed", "failed", 0, "timeout"
	}

	st := ServiceState{Name: "api", Command: []string{"/usr/bin/api"}}
	_, err := b.Install(context.Background(), st)
	require.NoError(t, err)
	_, err = b.Start(context.Background(), st)
	require.NoError(t, err)

	report, err := b.Stop(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, report.Forced)
}

func TestParseUnitStatus(t *testing.T) {
	us := parseUnitStatus("LoadState=loaded\nActiveState=active\nSubState=running\nResult=success\nMainPID=4242\n\ngarbage\n")
	assert.Equal(t, unitStatus{
		LoadState:   "loaded",
		ActiveState: "active",
		SubState:    "running",
		Result:      "success",
		MainPID:     4242,
	}, us)
	assert.True(t, us.active())
	assert.True(t, us.running())

	us = parseUnitStatus("ActiveState=activating\nSubState=start\nMainPID=0")
	assert.True(t, us.active())
	assert.False(t, us.running())
	assert.Zero(t, us.MainPID)
}

func TestClassifySystemctlError(t *testing.T) {
	base := errors.New("exit status 1")

	tests := []struct {
		stderr string
		want   error
	}{
		{"Failed to start api.service: Access denied", ErrPermission},
		{"Failed to enable unit: Interactive authentication required.", ErrPermission},
		{"Failed to stop api.service: Unit api.service not loaded.", ErrNotInstalled},
		{"Failed to start api.service: Unit api.service not found.", ErrNotInstalled},
	}
	for _, tt := range tests {
		err := classifySystemctlError(base, tt.stderr)
		assert.ErrorIs(t, err, tt.want, tt.stderr)
	}

	assert.Equal(t, base, classifySystemctlError(base, "  "))

	err := classifySystemctlError(base, "something odd")
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "something odd")
}

// TestSystemdBackendIntegration exercises a real unit; it needs root and a
// booted systemd
func TestSystemdBackendIntegration(t *testing.T) {
	RequireNotShort(t)
	RequireRoot(t)
	RequireSystemd(t)
	RequireTool(t, "sleep")

	sleep, err := exec.LookPath("sleep")
	require.NoError(t, err)

	cfg := DefaultBackendConfig(BackendSystemd)
	cfg.LogDir = t.TempDir()
	cfg.StopGrace = 2 * time.Second
	be, err := NewBackend(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	name := fmt.Sprintf("svcctl-test-%d", os.Getpid())
	st := ServiceState{Name: name, Command: []string{sleep, "300"}}

	path, err := be.Install(ctx, st)
	require.NoError(t, err)
	st.InstalledPath = path
	t.Cleanup(func() {
		_, _ = be.Stop(context.Background(), st)
		_ = be.Uninstall(context.Background(), st)
	})

	obs, err := be.Start(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, obs.Status)
	assert.Positive(t, obs.PID)

	_, err = be.Stop(ctx, st)
	require.NoError(t, err)
	require.NoError(t, WaitForProcessExit(t, obs.PID, 5*time.Second))
}
