//go:build linux

package svcctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/axondata/go-svcctl/internal/osproc"
)

// systemctlRunner executes one systemctl invocation and returns its stdout
type systemctlRunner func(ctx context.Context, args ...string) (string, error)

// systemdBackend manages services as systemd units through systemctl
type systemdBackend struct {
	cfg        BackendConfig
	log        zerolog.Logger
	systemctl  systemctlRunner
	writeFile  func(ctx context.Context, path string, data []byte) error
	removeFile func(ctx context.Context, path string) error
}

func newSystemdBackend(cfg BackendConfig) (Backend, error) {
	if _, err := exec.LookPath(cfg.SystemctlPath); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrBackendUnavailable, cfg.SystemctlPath, err)
	}

	b := &systemdBackend{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "systemd").Logger(),
	}
	b.systemctl = b.execSystemctl
	b.writeFile = b.writeUnitFile
	b.removeFile = b.removeUnitFile
	return b, nil
}

func (b *systemdBackend) Kind() BackendKind {
	return BackendSystemd
}

// command builds a command, prefixed with sudo when configured
func (b *systemdBackend) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if b.cfg.UseSudo {
		return exec.CommandContext(ctx, b.cfg.SudoCommand, append([]string{name}, args...)...)
	}
	return exec.CommandContext(ctx, name, args...)
}

// execSystemctl executes a systemctl command with optional sudo
func (b *systemdBackend) execSystemctl(ctx context.Context, args ...string) (string, error) {
	cmd := b.command(ctx, b.cfg.SystemctlPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), classifySystemctlError(err, stderr.String())
	}
	return stdout.String(), nil
}

// classifySystemctlError maps systemctl failures onto the sentinel errors
func classifySystemctlError(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(msg, "Access denied"),
		strings.Contains(msg, "Interactive authentication required"),
		strings.Contains(msg, "Permission denied"):
		return fmt.Errorf("%w: %s", ErrPermission, msg)
	case strings.Contains(msg, "not loaded"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %s", ErrNotInstalled, msg)
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w (stderr: %s)", err, msg)
}

// writeUnitFile writes the unit file, using sudo tee when configured
func (b *systemdBackend) writeUnitFile(ctx context.Context, path string, data []byte) error {
	if !b.cfg.UseSudo {
		if err := os.MkdirAll(b.cfg.UnitDir, DirMode); err != nil {
			return wrapFSError(err)
		}
		return wrapFSError(renameio.WriteFile(path, data, FileMode))
	}

	cmd := exec.CommandContext(ctx, b.cfg.SudoCommand, "tee", path)
	cmd.Stdin = bytes.NewReader(data)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo tee failed: %w (output: %s)", err, out.String())
	}
	return nil
}

func (b *systemdBackend) removeUnitFile(ctx context.Context, path string) error {
	if !b.cfg.UseSudo {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return wrapFSError(err)
		}
		return nil
	}
	if err := exec.CommandContext(ctx, b.cfg.SudoCommand, "rm", "-f", path).Run(); err != nil {
		return fmt.Errorf("removing unit file: %w", err)
	}
	return nil
}

func (b *systemdBackend) builder(st ServiceState) *UnitBuilder {
	ub := NewUnitBuilder(st.Name, b.cfg.UnitDir).
		WithDescription(st.Description).
		WithCmd(st.Command).
		WithCwd(st.WorkDir).
		WithStopGrace(b.cfg.StopGrace)
	if b.cfg.LogDir != "" {
		ub.WithLogFile(b.cfg.LogDir + "/" + st.Name + ".log")
	}
	for k, v := range st.Env {
		ub.WithEnv(k, v)
	}
	return ub
}

func (b *systemdBackend) Install(ctx context.Context, st ServiceState) (string, error) {
	ub := b.builder(st)
	content, err := ub.Unit()
	if err != nil {
		return "", fmt.Errorf("generating unit file: %w", err)
	}

	if b.cfg.LogDir != "" && !b.cfg.UseSudo {
		if err := os.MkdirAll(b.cfg.LogDir, DirMode); err != nil {
			return "", wrapFSError(err)
		}
	}

	path := ub.Path()
	if err := b.writeFile(ctx, path, []byte(content)); err != nil {
		return "", fmt.Errorf("writing unit file: %w", err)
	}

	rollback := func() {
		_ = b.removeFile(ctx, path)
		_, _ = b.systemctl(ctx, "daemon-reload")
	}

	if _, err := b.systemctl(ctx, "daemon-reload"); err != nil {
		rollback()
		return "", fmt.Errorf("daemon-reload: %w", err)
	}

	if st.AutoStart {
		if _, err := b.systemctl(ctx, "enable", ub.UnitName()); err != nil {
			rollback()
			return "", fmt.Errorf("enable: %w", err)
		}
	}

	return path, nil
}

func (b *systemdBackend) Uninstall(ctx context.Context, st ServiceState) error {
	unit := st.Name + ".service"

	// Disabling a unit that was never enabled is not an error worth reporting.
	if _, err := b.systemctl(ctx, "disable", unit); err != nil && errors.Is(err, ErrPermission) {
		return err
	}

	path := st.InstalledPath
	if path == "" {
		path = NewUnitBuilder(st.Name, b.cfg.UnitDir).Path()
	}

	merr := &MultiError{}
	merr.Add(b.removeFile(ctx, path))
	if _, err := b.systemctl(ctx, "daemon-reload"); err != nil {
		merr.Add(fmt.Errorf("daemon-reload: %w", err))
	}
	_, _ = b.systemctl(ctx, "reset-failed", unit)
	return merr.Err()
}

func (b *systemdBackend) Start(ctx context.Context, st ServiceState) (Observation, error) {
	startCtx, cancel := context.WithTimeout(ctx, b.cfg.StartTimeout)
	defer cancel()

	if _, err := b.systemctl(startCtx, "start", st.Name+".service"); err != nil {
		return Observation{Status: StatusFailed}, err
	}

	settle := b.cfg.Clock.Timer(b.cfg.StartSettle)
	select {
	case <-startCtx.Done():
		settle.Stop()
		return Observation{Status: StatusFailed}, fmt.Errorf("%w: waiting for %s to settle", ErrTimeout, st.Name)
	case <-settle.C:
	}

	tick := b.cfg.Clock.Ticker(b.cfg.PollInterval)
	defer tick.Stop()

	for {
		us, err := b.show(startCtx, st.Name)
		if err == nil {
			switch {
			case us.running():
				return b.observe(ctx, us), nil
			case us.ActiveState == "failed", us.ActiveState == "inactive":
				return Observation{Status: StatusFailed, Detail: us.Result},
					fmt.Errorf("unit %s is %s (result %s)", st.Name, us.ActiveState, us.Result)
			}
		}

		select {
		case <-startCtx.Done():
			return Observation{Status: StatusFailed}, fmt.Errorf("%w: %s not running within %s", ErrTimeout, st.Name, b.cfg.StartTimeout)
		case <-tick.C:
		}
	}
}

func (b *systemdBackend) Stop(ctx context.Context, st ServiceState) (StopReport, error) {
	us, err := b.show(ctx, st.Name)
	if err != nil {
		return StopReport{}, err
	}
	if !us.active() {
		return StopReport{AlreadyStopped: true}, nil
	}

	// systemd escalates to SIGKILL itself after TimeoutStopSec.
	stopCtx, cancel := context.WithTimeout(ctx, b.cfg.StopGrace+b.cfg.KillWait+time.Second)
	defer cancel()

	if _, err := b.systemctl(stopCtx, "stop", st.Name+".service"); err != nil {
		if errors.Is(stopCtx.Err(), context.DeadlineExceeded) {
			return StopReport{}, fmt.Errorf("%w: systemctl stop %s", ErrTimeout, st.Name)
		}
		return StopReport{}, err
	}

	us, err = b.show(ctx, st.Name)
	if err != nil {
		return StopReport{}, err
	}
	if us.active() {
		return StopReport{Forced: true}, fmt.Errorf("%w: %s still %s after stop", ErrTimeout, st.Name, us.ActiveState)
	}
	return StopReport{Forced: us.Result == "timeout"}, nil
}

func (b *systemdBackend) QueryStatus(ctx context.Context, st ServiceState) (Observation, error) {
	us, err := b.show(ctx, st.Name)
	if err != nil {
		return Observation{}, err
	}
	if us.LoadState == "not-found" {
		return Observation{Status: StatusNotInstalled, Detail: "unit not found"}, nil
	}
	if us.active() {
		return b.observe(ctx, us), nil
	}
	if us.ActiveState == "failed" {
		return Observation{Status: StatusFailed, Detail: fmt.Sprintf("unit failed (result %s)", us.Result)}, nil
	}
	return Observation{Status: StatusStopped, Detail: fmt.Sprintf("unit %s/%s", us.ActiveState, us.SubState)}, nil
}

// observe converts an active unit to an Observation, resolving the main
// process create time for PID reuse checks
func (b *systemdBackend) observe(ctx context.Context, us unitStatus) Observation {
	obs := Observation{Status: StatusRunning, PID: us.MainPID}
	if us.MainPID > 0 {
		if id, ok, err := osproc.Inspect(ctx, us.MainPID); err == nil && ok {
			obs.PIDStartTime = id.CreateTime
		}
	}
	return obs
}

// unitStatus holds the systemctl show properties svcctl relies on
type unitStatus struct {
	LoadState   string
	ActiveState string
	SubState    string
	Result      string
	MainPID     int
}

func (u unitStatus) active() bool {
	return u.ActiveState == "active" || u.ActiveState == "activating" || u.ActiveState == "reloading"
}

func (u unitStatus) running() bool {
	return u.ActiveState == "active" && u.SubState == "running"
}

func (b *systemdBackend) show(ctx context.Context, name string) (unitStatus, error) {
	out, err := b.systemctl(ctx, "show", "--no-pager",
		"-p", "LoadState,ActiveState,SubState,Result,MainPID", name+".service")
	if err != nil {
		return unitStatus{}, err
	}
	return parseUnitStatus(out), nil
}

// parseUnitStatus parses the key=value output of systemctl show
func parseUnitStatus(output string) unitStatus {
	var us unitStatus
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "LoadState":
			us.LoadState = value
		case "ActiveState":
			us.ActiveState = value
		case "SubState":
			us.SubState = value
		case "Result":
			us.Result = value
		case "MainPID":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				us.MainPID = pid
			}
		}
	}
	return us
}
