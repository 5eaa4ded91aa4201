//go:build unix

package svcctl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/axondata/go-svcctl/internal/osproc"
)

// initScriptBackend manages daemons directly: it spawns the service command
// detached, tracks it through a pidfile, and writes an LSB init script so
// the service can also be driven by the system's rc machinery.
type initScriptBackend struct {
	cfg BackendConfig
	log zerolog.Logger
}

func newInitScriptBackend(cfg BackendConfig) (Backend, error) {
	return &initScriptBackend{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "initscript").Logger(),
	}, nil
}

func (b *initScriptBackend) Kind() BackendKind {
	return BackendInitScript
}

func (b *initScriptBackend) pidPath(name string) string {
	return filepath.Join(b.cfg.RunDir, name+".pid")
}

func (b *initScriptBackend) logPath(name string) string {
	return filepath.Join(b.cfg.LogDir, name+".log")
}

func (b *initScriptBackend) builder(st ServiceState) *InitScriptBuilder {
	sb := NewInitScriptBuilder(st.Name, b.cfg.InitDir).
		WithDescription(st.Description).
		WithCmd(st.Command).
		WithCwd(st.WorkDir).
		WithPIDFile(b.pidPath(st.Name)).
		WithLogFile(b.logPath(st.Name)).
		WithStopGrace(b.cfg.StopGrace)
	for k, v := range st.Env {
		sb.WithEnv(k, v)
	}
	return sb
}

func (b *initScriptBackend) Install(_ context.Context, st ServiceState) (string, error) {
	if len(st.Command) == 0 {
		return "", fmt.Errorf("service %s has no command", st.Name)
	}

	path, err := b.builder(st).Build()
	if err != nil {
		return "", wrapFSError(err)
	}

	if st.AutoStart {
		links, err := linkRunlevels(b.cfg.RCDir, st.Name, path)
		if err != nil {
			_ = unlinkRunlevels(b.cfg.RCDir, st.Name)
			_ = os.Remove(path)
			return "", wrapFSError(err)
		}
		b.log.Debug().Str("service", st.Name).Strs("links", links).Msg("registered for boot")
	}

	return path, nil
}

func (b *initScriptBackend) Uninstall(_ context.Context, st ServiceState) error {
	merr := &MultiError{}
	merr.Add(wrapFSError(unlinkRunlevels(b.cfg.RCDir, st.Name)))

	script := st.InstalledPath
	if script == "" {
		script = filepath.Join(b.cfg.InitDir, st.Name)
	}
	for _, p := range []string{script, b.pidPath(st.Name)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			merr.Add(wrapFSError(err))
		}
	}
	return merr.Err()
}

func (b *initScriptBackend) Start(ctx context.Context, st ServiceState) (Observation, error) {
	if obs, err := b.QueryStatus(ctx, st); err == nil && obs.Status == StatusRunning {
		return obs, nil
	}
	if len(st.Command) == 0 {
		return Observation{Status: StatusFailed}, fmt.Errorf("service %s has no command", st.Name)
	}

	for _, dir := range []string{b.cfg.RunDir, b.cfg.LogDir} {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return Observation{Status: StatusFailed}, wrapFSError(err)
		}
	}

	logf, err := os.OpenFile(b.logPath(st.Name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, FileMode)
	if err != nil {
		return Observation{Status: StatusFailed}, wrapFSError(err)
	}
	defer func() { _ = logf.Close() }()

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return Observation{Status: StatusFailed}, err
	}
	defer func() { _ = devnull.Close() }()

	// Not CommandContext: the daemon must outlive the control operation.
	cmd := exec.Command(st.Command[0], st.Command[1:]...)
	cmd.Dir = st.WorkDir
	cmd.Env = serviceEnv(st)
	cmd.Stdin = devnull
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = osproc.DetachedAttr()

	if err := cmd.Start(); err != nil {
		return Observation{Status: StatusFailed}, wrapFSError(fmt.Errorf("spawning %s: %w", st.Command[0], err))
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var created int64
	if id, ok, err := osproc.Inspect(ctx, pid); err == nil && ok {
		created = id.CreateTime
	}

	if err := b.writePIDFile(st.Name, pid); err != nil {
		_ = osproc.SignalGroup(pid, syscall.SIGKILL)
		return Observation{Status: StatusFailed}, err
	}

	b.log.Debug().Str("service", st.Name).Int("pid", pid).Msg("spawned")

	startCtx, cancel := context.WithTimeout(ctx, b.cfg.StartTimeout)
	defer cancel()

	settle := b.cfg.Clock.Timer(b.cfg.StartSettle)
	defer settle.Stop()

	select {
	case werr := <-exited:
		b.removePIDFile(st.Name)
		if werr == nil {
			werr = errors.New("exit status 0")
		}
		return Observation{Status: StatusFailed, Detail: werr.Error()},
			fmt.Errorf("process %d exited during startup: %w", pid, werr)

	case <-settle.C:
		alive, err := osproc.Alive(ctx, pid, created)
		if err != nil || !alive {
			b.removePIDFile(st.Name)
			return Observation{Status: StatusFailed}, fmt.Errorf("process %d exited during startup", pid)
		}
		return Observation{Status: StatusRunning, PID: pid, PIDStartTime: created}, nil

	case <-startCtx.Done():
		_ = osproc.SignalGroup(pid, syscall.SIGKILL)
		b.removePIDFile(st.Name)
		err := startCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: process %d not confirmed within %s", ErrTimeout, pid, b.cfg.StartTimeout)
		}
		return Observation{Status: StatusFailed}, err
	}
}

func (b *initScriptBackend) Stop(ctx context.Context, st ServiceState) (StopReport, error) {
	pid, created, err := b.target(ctx, st)
	if err != nil {
		return StopReport{}, err
	}
	if pid == 0 {
		b.removePIDFile(st.Name)
		return StopReport{AlreadyStopped: true}, nil
	}

	if alive, err := osproc.Alive(ctx, pid, created); err == nil && !alive {
		b.removePIDFile(st.Name)
		return StopReport{AlreadyStopped: true}, nil
	}

	log := b.log.With().Str("service", st.Name).Int("pid", pid).Logger()

	if err := osproc.SignalGroup(pid, syscall.SIGTERM); err != nil {
		switch {
		case osproc.IsNoProcess(err):
			b.removePIDFile(st.Name)
			return StopReport{AlreadyStopped: true}, nil
		case osproc.IsPermission(err):
			return StopReport{}, fmt.Errorf("%w: signalling pid %d", ErrPermission, pid)
		default:
			return StopReport{}, fmt.Errorf("signalling pid %d: %w", pid, err)
		}
	}

	gone, err := b.waitGone(ctx, pid, created, b.cfg.StopGrace)
	if err != nil {
		return StopReport{}, err
	}
	if gone {
		b.removePIDFile(st.Name)
		return StopReport{}, nil
	}

	log.Warn().Dur("grace", b.cfg.StopGrace).Msg("grace period elapsed, sending SIGKILL")

	if err := osproc.SignalGroup(pid, syscall.SIGKILL); err != nil && !osproc.IsNoProcess(err) {
		return StopReport{Forced: true}, fmt.Errorf("%w: killing pid %d: %v", ErrTimeout, pid, err)
	}

	gone, err = b.waitGone(ctx, pid, created, b.cfg.KillWait)
	if err != nil {
		return StopReport{Forced: true}, err
	}
	if !gone {
		return StopReport{Forced: true}, fmt.Errorf("%w: pid %d survived SIGKILL", ErrTimeout, pid)
	}

	b.removePIDFile(st.Name)
	return StopReport{Forced: true}, nil
}

func (b *initScriptBackend) QueryStatus(ctx context.Context, st ServiceState) (Observation, error) {
	pid, created, err := b.target(ctx, st)
	if err != nil {
		return Observation{}, err
	}
	if pid == 0 {
		return Observation{Status: StatusStopped, Detail: "no pidfile"}, nil
	}

	id, ok, err := osproc.Inspect(ctx, pid)
	if err != nil {
		return Observation{}, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}
	if !ok || (created != 0 && id.CreateTime != created) {
		b.removePIDFile(st.Name)
		return Observation{
			Status: StatusStopped,
			Detail: fmt.Sprintf("process %d is no longer running", pid),
		}, nil
	}

	return Observation{Status: StatusRunning, PID: pid, PIDStartTime: id.CreateTime}, nil
}

// target resolves the process to act on. The pidfile wins over the record
// because the init script may have started the service on its own. The
// recorded create time applies when both agree on the PID; any other live
// process must prove it belongs to the service, or the pidfile is stale.
func (b *initScriptBackend) target(ctx context.Context, st ServiceState) (pid int, created int64, err error) {
	pid = b.readPIDFile(st.Name)
	if pid == 0 {
		return 0, 0, nil
	}
	if pid == st.PID && st.PIDStartTime != 0 {
		return pid, st.PIDStartTime, nil
	}

	id, ok, err := osproc.Inspect(ctx, pid)
	if err != nil {
		return 0, 0, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}
	if !ok {
		return pid, 0, nil
	}

	owned, err := osproc.Owns(ctx, pid, EnvServiceName+"="+st.Name, st.Command)
	if err != nil {
		return 0, 0, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}
	if !owned {
		b.log.Warn().Str("service", st.Name).Int("pid", pid).Str("process", id.Name).
			Msg("pidfile names a process that is not this service, removing it")
		b.removePIDFile(st.Name)
		return 0, 0, nil
	}
	return pid, id.CreateTime, nil
}

func (b *initScriptBackend) waitGone(ctx context.Context, pid int, created int64, limit time.Duration) (bool, error) {
	deadline := b.cfg.Clock.Timer(limit)
	defer deadline.Stop()
	tick := b.cfg.Clock.Ticker(b.cfg.PollInterval)
	defer tick.Stop()

	for {
		if alive, err := osproc.Alive(ctx, pid, created); err == nil && !alive {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			alive, err := osproc.Alive(ctx, pid, created)
			return err == nil && !alive, nil
		case <-tick.C:
		}
	}
}

func (b *initScriptBackend) readPIDFile(name string) int {
	data, err := os.ReadFile(b.pidPath(name))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		b.log.Warn().Str("service", name).Msg("removing malformed pidfile")
		b.removePIDFile(name)
		return 0
	}
	return pid
}

func (b *initScriptBackend) writePIDFile(name string, pid int) error {
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := renameio.WriteFile(b.pidPath(name), data, FileMode); err != nil {
		return wrapFSError(fmt.Errorf("writing pidfile: %w", err))
	}
	return nil
}

func (b *initScriptBackend) removePIDFile(name string) {
	if err := os.Remove(b.pidPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.log.Warn().Err(err).Str("service", name).Msg("removing pidfile")
	}
}

// serviceEnv builds the environment of a spawned service process
func serviceEnv(st ServiceState) []string {
	env := os.Environ()
	for k, v := range st.Env {
		env = append(env, k+"="+v)
	}
	return append(env, EnvServiceName+"="+st.Name)
}
