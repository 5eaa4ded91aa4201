package svcctl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Manager drives services through their lifecycle. It owns the state
// records: every operation takes the per-name lock, reconciles the record
// with what the backend observes, dispatches to the backend and persists
// the outcome.
type Manager struct {
	// StartTimeout bounds how long Start waits for confirmation
	StartTimeout time.Duration
	// StopGrace is the wait between the stop request and the forced kill
	StopGrace time.Duration

	store      *Store
	backend    Backend
	backendCfg BackendConfig
	log        zerolog.Logger
	clock      clock.Clock
	metrics    *Metrics

	mu          sync.RWMutex
	descriptors map[string]*ServiceDescriptor
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithStateDir sets the directory holding state records and lock files
func WithStateDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.store = NewStore(dir)
	}
}

// WithBackend uses b instead of creating a backend from the configuration
func WithBackend(b Backend) ManagerOption {
	return func(m *Manager) {
		m.backend = b
	}
}

// WithBackendConfig sets the configuration used to create the backend
func WithBackendConfig(cfg BackendConfig) ManagerOption {
	return func(m *Manager) {
		m.backendCfg = cfg
	}
}

// WithStopGrace sets the wait between the stop request and the forced kill
func WithStopGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.StopGrace = d
	}
}

// WithStartTimeout sets how long Start waits for confirmation
func WithStartTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.StartTimeout = d
	}
}

// WithLogger sets the logger for lifecycle events
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock sets the clock used for record timestamps and backend timers
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithMetrics records operation and transition metrics
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a Manager. Without WithBackend, the backend is built
// from the backend configuration, defaulting to the platform backend.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		store:       NewStore(PlatformStateDir()),
		log:         zerolog.Nop(),
		clock:       clock.New(),
		descriptors: make(map[string]*ServiceDescriptor),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.log = m.log.With().Str("component", "manager").Logger()

	if m.backend == nil {
		cfg := m.backendCfg
		if m.StopGrace > 0 {
			cfg.StopGrace = m.StopGrace
		}
		if m.StartTimeout > 0 {
			cfg.StartTimeout = m.StartTimeout
		}
		if cfg.Clock == nil {
			cfg.Clock = m.clock
		}
		cfg.Logger = m.log

		b, err := NewBackend(cfg)
		if err != nil {
			return nil, err
		}
		m.backend = b
		m.backendCfg = cfg
	}

	if m.StopGrace <= 0 {
		m.StopGrace = m.backendCfg.StopGrace
	}
	if m.StopGrace <= 0 {
		m.StopGrace = DefaultStopGrace
	}
	if m.StartTimeout <= 0 {
		m.StartTimeout = m.backendCfg.StartTimeout
	}
	if m.StartTimeout <= 0 {
		m.StartTimeout = DefaultStartTimeout
	}

	return m, nil
}

// Store returns the state store
func (m *Manager) Store() *Store {
	return m.store
}

// Backend returns the active backend
func (m *Manager) Backend() Backend {
	return m.backend
}

// Attach registers d so its hooks fire for operations addressed by name
func (m *Manager) Attach(d *ServiceDescriptor) {
	if d == nil {
		return
	}
	m.mu.Lock()
	m.descriptors[d.Name()] = d
	m.mu.Unlock()
}

func (m *Manager) hooksFor(name string) Hooks {
	m.mu.RLock()
	d := m.descriptors[name]
	m.mu.RUnlock()
	return d.hooks()
}

// locked runs fn under the per-name lock and records the operation metrics
func (m *Manager) locked(ctx context.Context, op Operation, name string, fn func(context.Context) error) error {
	start := m.clock.Now()

	err := func() error {
		unlock, err := m.store.Lock(ctx, name)
		if err != nil {
			return err
		}
		defer unlock()
		return fn(ctx)
	}()

	err = opErr(op, name, err)
	m.metrics.observeOp(op, m.clock.Since(start), err)
	if err != nil {
		m.log.Error().Err(err).Str("service", name).Str("op", op.String()).Msg("operation failed")
	}
	return err
}

// runHook invokes a lifecycle hook outside the lock
func (m *Manager) runHook(op Operation, name, hook string, err error) error {
	if err == nil {
		return nil
	}
	m.log.Warn().Err(err).Str("service", name).Str("hook", hook).Msg("hook failed")
	return opErr(op, name, fmt.Errorf("%s hook: %w", hook, err))
}

// persist moves st to status `to` and writes the record
func (m *Manager) persist(st *ServiceState, to Status) error {
	from := st.Status
	if from != to && !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrStateConflict, from, to)
	}

	st.Status = to
	if !to.Active() {
		st.clearProcess()
	}
	st.UpdatedAt = m.clock.Now().UTC()

	if err := m.store.Save(*st); err != nil {
		return err
	}

	m.metrics.transition(st.Name, from, to)
	if from != to {
		m.log.Info().
			Str("service", st.Name).
			Str("from", from.String()).
			Str("to", to.String()).
			Int("pid", st.PID).
			Msg("state transition")
	}
	return nil
}

// load reads the record for name, failing with ErrNotInstalled when absent
func (m *Manager) load(name string) (ServiceState, error) {
	st, ok, err := m.store.Load(name)
	if err != nil {
		return ServiceState{}, err
	}
	if !ok {
		return ServiceState{}, ErrNotInstalled
	}
	return st, nil
}

// reconcile corrects the record with the backend's observation and returns
// the observation. Deaths nobody asked for become Failed; processes started
// outside svcctl (e.g. by the init script) are adopted as Running.
func (m *Manager) reconcile(ctx context.Context, st *ServiceState) (Observation, error) {
	obs, err := m.backend.QueryStatus(ctx, *st)
	if err != nil {
		return Observation{}, err
	}

	alive := obs.Status == StatusRunning
	if obs.Status == StatusNotInstalled {
		m.log.Warn().Str("service", st.Name).Str("detail", obs.Detail).Msg("platform artifact missing")
	}

	switch st.Status {
	case StatusStarting, StatusRunning:
		if !alive {
			st.LastError = obs.Detail
			if st.LastError == "" {
				st.LastError = "process exited unexpectedly"
			}
			m.log.Warn().Str("service", st.Name).Int("pid", st.PID).Str("detail", st.LastError).Msg("service died")
			return obs, m.persist(st, StatusFailed)
		}
		if st.Status == StatusStarting || st.PID != obs.PID || st.PIDStartTime != obs.PIDStartTime {
			st.PID, st.PIDStartTime = obs.PID, obs.PIDStartTime
			return obs, m.persist(st, StatusRunning)
		}

	case StatusInstalled, StatusStopped:
		if alive {
			st.PID, st.PIDStartTime = obs.PID, obs.PIDStartTime
			st.LastError = ""
			m.log.Info().Str("service", st.Name).Int("pid", obs.PID).Msg("adopting running process")
			return obs, m.persist(st, StatusRunning)
		}

	case StatusStopping:
		if !alive {
			return obs, m.persist(st, StatusStopped)
		}
	}

	return obs, nil
}

// Install writes the platform artifact and the Installed record for d
func (m *Manager) Install(ctx context.Context, d *ServiceDescriptor) (ServiceState, error) {
	if d == nil {
		return ServiceState{}, opErr(OpInstall, "", errors.New("nil descriptor"))
	}
	name := d.Name()

	var st ServiceState
	err := m.locked(ctx, OpInstall, name, func(ctx context.Context) error {
		if _, ok, err := m.store.Load(name); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInstalled
		}

		st = d.newState()
		st.Backend = m.backend.Kind()
		now := m.clock.Now().UTC()
		st.InstalledAt = now
		st.UpdatedAt = now

		path, err := m.backend.Install(ctx, st)
		if err != nil {
			return err
		}
		st.InstalledPath = path

		if err := m.store.Save(st); err != nil {
			if uerr := m.backend.Uninstall(ctx, st); uerr != nil {
				m.log.Warn().Err(uerr).Str("service", name).Msg("rolling back install")
			}
			return err
		}

		m.metrics.transition(name, StatusNotInstalled, StatusInstalled)
		m.log.Info().Str("service", name).Str("path", path).Str("backend", st.Backend.String()).Msg("installed")
		return nil
	})
	if err != nil {
		return ServiceState{}, err
	}

	m.Attach(d)
	return st, m.runHook(OpInstall, name, "installed", d.hooks().Installed(ctx, st.clone()))
}

// Uninstall removes the platform artifact and the record. A running service
// must be stopped first. A Failed service whose process is gone is moved to
// Stopped on the way out, so it can be uninstalled without a separate Stop.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	err := m.locked(ctx, OpUninstall, name, func(ctx context.Context) error {
		st, err := m.load(name)
		if err != nil {
			return err
		}

		obs, err := m.reconcile(ctx, &st)
		if err != nil {
			return err
		}
		if obs.Status == StatusRunning || st.Status.Active() || st.Status == StatusStopping {
			return fmt.Errorf("%w: stop the service first", ErrStillRunning)
		}

		if st.Status == StatusFailed {
			if err := m.persist(&st, StatusStopped); err != nil {
				return err
			}
		}

		if err := m.backend.Uninstall(ctx, st); err != nil {
			return err
		}
		if err := m.store.Delete(name); err != nil {
			return err
		}

		m.metrics.transition(name, st.Status, StatusNotInstalled)
		m.log.Info().Str("service", name).Msg("uninstalled")
		return nil
	})
	if err != nil {
		return err
	}

	return m.runHook(OpUninstall, name, "uninstalled", m.hooksFor(name).Uninstalled(ctx, name))
}

// Start launches the service and blocks until it is confirmed running.
// Starting a running service returns its current record.
func (m *Manager) Start(ctx context.Context, name string) (ServiceState, error) {
	var st ServiceState
	started := false

	err := m.locked(ctx, OpStart, name, func(ctx context.Context) error {
		var err error
		if st, err = m.load(name); err != nil {
			return err
		}
		if _, err := m.reconcile(ctx, &st); err != nil {
			return err
		}

		switch st.Status {
		case StatusRunning:
			return nil
		case StatusFailed:
			return fmt.Errorf("%w: service failed (%s), stop it first", ErrStateConflict, st.LastError)
		case StatusStarting, StatusStopping:
			return fmt.Errorf("%w: service is %s", ErrStateConflict, st.Status)
		}

		st.LastError = ""
		if err := m.persist(&st, StatusStarting); err != nil {
			return err
		}

		obs, err := m.backend.Start(ctx, st)
		if err != nil {
			st.LastError = err.Error()
			if perr := m.persist(&st, StatusFailed); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		}

		st.PID, st.PIDStartTime = obs.PID, obs.PIDStartTime
		if err := m.persist(&st, StatusRunning); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return st, err
	}
	if !started {
		return st, nil
	}

	return st, m.runHook(OpStart, name, "started", m.hooksFor(name).Started(ctx, st.clone()))
}

// Stop terminates the service. Stopping a service that is not running
// succeeds without doing anything.
func (m *Manager) Stop(ctx context.Context, name string) (ServiceState, error) {
	var st ServiceState
	stopped := false

	err := m.locked(ctx, OpStop, name, func(ctx context.Context) error {
		var err error
		if st, err = m.load(name); err != nil {
			return err
		}
		if _, err := m.reconcile(ctx, &st); err != nil {
			return err
		}

		if st.Status == StatusStopped || st.Status == StatusInstalled {
			return nil
		}

		target := st.clone()
		if st.Status != StatusStopping {
			if err := m.persist(&st, StatusStopping); err != nil {
				return err
			}
		}

		report, err := m.backend.Stop(ctx, target)
		if err != nil {
			st.LastError = err.Error()
			if perr := m.persist(&st, StatusFailed); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		}

		st.LastError = ""
		if report.Forced {
			st.LastError = fmt.Sprintf("killed after %s grace period", m.StopGrace)
			m.log.Warn().Str("service", name).Int("pid", target.PID).Dur("grace", m.StopGrace).Msg("stop timed out, process was killed")
		}
		if err := m.persist(&st, StatusStopped); err != nil {
			return err
		}
		stopped = true
		return nil
	})
	if err != nil {
		return st, err
	}
	if !stopped {
		return st, nil
	}

	return st, m.runHook(OpStop, name, "stopped", m.hooksFor(name).Stopped(ctx, st.clone()))
}

// Restart stops then starts the service
func (m *Manager) Restart(ctx context.Context, name string) (ServiceState, error) {
	start := m.clock.Now()

	st, err := m.Stop(ctx, name)
	if err == nil {
		st, err = m.Start(ctx, name)
	}

	m.metrics.observeOp(OpRestart, m.clock.Since(start), err)
	return st, opErr(OpRestart, name, err)
}

// Status reports the reconciled state of a service. A service without a
// record is reported NotInstalled rather than as an error.
func (m *Manager) Status(ctx context.Context, name string) (ServiceState, error) {
	if err := ValidateName(name); err != nil {
		return ServiceState{}, opErr(OpStatus, name, err)
	}
	if _, ok, err := m.store.Load(name); err == nil && !ok {
		return ServiceState{Name: name, Status: StatusNotInstalled}, nil
	}

	var st ServiceState
	err := m.locked(ctx, OpStatus, name, func(ctx context.Context) error {
		var ok bool
		var err error
		st, ok, err = m.store.Load(name)
		if err != nil {
			return err
		}
		if !ok {
			st = ServiceState{Name: name, Status: StatusNotInstalled}
			return nil
		}
		_, err = m.reconcile(ctx, &st)
		return err
	})
	return st, err
}

// List reports the reconciled state of every installed service
func (m *Manager) List(ctx context.Context) ([]ServiceState, error) {
	names, err := m.store.List()
	if err != nil {
		return nil, err
	}

	merr := &MultiError{}
	states := make([]ServiceState, 0, len(names))
	for _, name := range names {
		st, err := m.Status(ctx, name)
		if err != nil {
			merr.Add(err)
			continue
		}
		states = append(states, st)
	}
	return states, merr.Err()
}
