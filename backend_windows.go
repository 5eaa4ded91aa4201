//go:build windows

package svcctl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/axondata/go-svcctl/internal/osproc"
)

const serviceKeyPrefix = `SYSTEM\CurrentControlSet\Services\`

// windowsBackend manages services through the Service Control Manager
type windowsBackend struct {
	cfg BackendConfig
	log zerolog.Logger
}

func newWindowsBackend(cfg BackendConfig) (Backend, error) {
	return &windowsBackend{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "scm").Logger(),
	}, nil
}

func (b *windowsBackend) Kind() BackendKind {
	return BackendWindows
}

// mapSCMError translates SCM error codes to the sentinel errors
func mapSCMError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case errors.Is(err, windows.ERROR_SERVICE_EXISTS):
		return fmt.Errorf("%w: %v", ErrAlreadyInstalled, err)
	case errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST):
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	case errors.Is(err, windows.ERROR_SERVICE_MARKED_FOR_DELETE):
		return fmt.Errorf("%w: %v", ErrStateConflict, err)
	}
	return err
}

// withService connects to the SCM and opens the named service
func withService(name string, fn func(s *mgr.Service) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return mapSCMError(err)
	}
	defer func() { _ = m.Disconnect() }()

	s, err := m.OpenService(name)
	if err != nil {
		return mapSCMError(err)
	}
	defer func() { _ = s.Close() }()

	return fn(s)
}

func (b *windowsBackend) Install(_ context.Context, st ServiceState) (string, error) {
	if len(st.Command) == 0 {
		return "", fmt.Errorf("service %s has no command", st.Name)
	}

	m, err := mgr.Connect()
	if err != nil {
		return "", mapSCMError(err)
	}
	defer func() { _ = m.Disconnect() }()

	startType := uint32(mgr.StartManual)
	if st.AutoStart {
		startType = mgr.StartAutomatic
	}

	s, err := m.CreateService(st.Name, st.Command[0], mgr.Config{
		DisplayName: st.Name,
		Description: st.Description,
		StartType:   startType,
	}, st.Command[1:]...)
	if err != nil {
		return "", mapSCMError(err)
	}
	defer func() { _ = s.Close() }()

	if err := setServiceEnv(st); err != nil {
		_ = s.Delete()
		return "", err
	}

	if err := eventlog.InstallAsEventCreate(st.Name, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
		_ = s.Delete()
		return "", fmt.Errorf("registering event log source: %w", mapSCMError(err))
	}

	return st.Name, nil
}

// setServiceEnv writes the service environment into its registry key
func setServiceEnv(st ServiceState) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, serviceKeyPrefix+st.Name, registry.SET_VALUE)
	if err != nil {
		return mapSCMError(err)
	}
	defer func() { _ = k.Close() }()

	env := make([]string, 0, len(st.Env)+1)
	for key, v := range st.Env {
		env = append(env, key+"="+v)
	}
	sort.Strings(env)
	env = append(env, EnvServiceName+"="+st.Name)

	return mapSCMError(k.SetStringsValue("Environment", env))
}

func (b *windowsBackend) Uninstall(_ context.Context, st ServiceState) error {
	merr := &MultiError{}
	merr.Add(withService(st.Name, func(s *mgr.Service) error {
		return mapSCMError(s.Delete())
	}))
	if err := eventlog.Remove(st.Name); err != nil {
		b.log.Warn().Err(err).Str("service", st.Name).Msg("removing event log source")
	}
	return merr.Err()
}

func (b *windowsBackend) Start(ctx context.Context, st ServiceState) (Observation, error) {
	var obs Observation
	err := withService(st.Name, func(s *mgr.Service) error {
		if err := s.Start(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
			return mapSCMError(err)
		}

		status, err := b.poll(ctx, s, b.cfg.StartTimeout, svc.Running, svc.Stopped)
		if err != nil {
			return err
		}
		if status.State != svc.Running {
			return fmt.Errorf("service stopped during startup (exit code %d)", status.Win32ExitCode)
		}

		obs = Observation{Status: StatusRunning, PID: int(status.ProcessId)}
		if id, ok, err := osproc.Inspect(ctx, obs.PID); err == nil && ok {
			obs.PIDStartTime = id.CreateTime
		}
		return nil
	})
	if err != nil {
		return Observation{Status: StatusFailed, Detail: err.Error()}, err
	}
	return obs, nil
}

func (b *windowsBackend) Stop(ctx context.Context, st ServiceState) (StopReport, error) {
	var report StopReport
	err := withService(st.Name, func(s *mgr.Service) error {
		status, err := s.Query()
		if err != nil {
			return mapSCMError(err)
		}
		if status.State == svc.Stopped {
			report.AlreadyStopped = true
			return nil
		}

		if _, err := s.Control(svc.Stop); err != nil && !errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
			return mapSCMError(err)
		}

		status, err = b.poll(ctx, s, b.cfg.StopGrace, svc.Stopped)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			return err
		}

		b.log.Warn().Str("service", st.Name).Dur("grace", b.cfg.StopGrace).Msg("grace period elapsed, terminating process")
		report.Forced = true
		if err := terminateProcess(status.ProcessId); err != nil {
			return fmt.Errorf("%w: terminating pid %d: %v", ErrTimeout, status.ProcessId, err)
		}

		_, err = b.poll(ctx, s, b.cfg.KillWait, svc.Stopped)
		return err
	})
	return report, err
}

func (b *windowsBackend) QueryStatus(_ context.Context, st ServiceState) (Observation, error) {
	var obs Observation
	err := withService(st.Name, func(s *mgr.Service) error {
		status, err := s.Query()
		if err != nil {
			return mapSCMError(err)
		}
		switch status.State {
		case svc.Running, svc.StartPending, svc.ContinuePending:
			obs = Observation{Status: StatusRunning, PID: int(status.ProcessId)}
		case svc.StopPending, svc.PausePending, svc.Paused:
			obs = Observation{Status: StatusRunning, PID: int(status.ProcessId), Detail: "stop pending"}
		default:
			obs = Observation{Status: StatusStopped}
			if status.Win32ExitCode != 0 {
				obs.Detail = fmt.Sprintf("exit code %d", status.Win32ExitCode)
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotInstalled) {
		return Observation{Status: StatusNotInstalled, Detail: "service not registered"}, nil
	}
	return obs, err
}

// poll queries the service until it reaches one of the wanted states
func (b *windowsBackend) poll(ctx context.Context, s *mgr.Service, limit time.Duration, want ...svc.State) (svc.Status, error) {
	deadline := b.cfg.Clock.Timer(limit)
	defer deadline.Stop()
	tick := b.cfg.Clock.Ticker(b.cfg.PollInterval)
	defer tick.Stop()

	for {
		status, err := s.Query()
		if err != nil {
			return status, mapSCMError(err)
		}
		for _, w := range want {
			if status.State == w {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-deadline.C:
			return status, fmt.Errorf("%w: service in state %d after %s", ErrTimeout, status.State, limit)
		case <-tick.C:
		}
	}
}

func terminateProcess(pid uint32) error {
	if pid == 0 {
		return nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, pid)
	if err != nil {
		return err
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.TerminateProcess(h, 1)
}
