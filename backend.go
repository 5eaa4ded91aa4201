package svcctl

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// BackendKind identifies a platform backend
type BackendKind int

const (
	// BackendUnknown represents an unknown or unsupported backend
	BackendUnknown BackendKind = iota
	// BackendInitScript manages daemons through init scripts and pidfiles
	BackendInitScript
	// BackendSystemd manages services through systemd units
	BackendSystemd
	// BackendWindows manages services through the Service Control Manager
	BackendWindows
)

// BackendKind string constants
const (
	backendUnknownStr    = "unknown"
	backendInitScriptStr = "initscript"
	backendSystemdStr    = "systemd"
	backendWindowsStr    = "windows"
)

// String returns the string representation of BackendKind
func (k BackendKind) String() string {
	switch k {
	case BackendInitScript:
		return backendInitScriptStr
	case BackendSystemd:
		return backendSystemdStr
	case BackendWindows:
		return backendWindowsStr
	case BackendUnknown:
		fallthrough
	default:
		return backendUnknownStr
	}
}

// ParseBackendKind parses the string form of a backend. The empty string
// and "auto" select the platform default.
func ParseBackendKind(s string) (BackendKind, error) {
	switch s {
	case "", "auto":
		return DefaultBackendKind(), nil
	case backendInitScriptStr, "sysv":
		return BackendInitScript, nil
	case backendSystemdStr:
		return BackendSystemd, nil
	case backendWindowsStr, "scm":
		return BackendWindows, nil
	default:
		return BackendUnknown, fmt.Errorf("unknown backend %q", s)
	}
}

// MarshalText encodes the backend kind as its string form
func (k BackendKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes the string form of a backend kind
func (k *BackendKind) UnmarshalText(text []byte) error {
	if string(text) == backendUnknownStr {
		*k = BackendUnknown
		return nil
	}
	v, err := ParseBackendKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Observation is what a backend sees of a service right now
type Observation struct {
	// Status is Running, Stopped or Failed
	Status Status
	// PID is the live process ID when known
	PID int
	// PIDStartTime is the live process creation time in Unix milliseconds
	PIDStartTime int64
	// Detail carries a backend-specific explanation, e.g. why a process is considered dead
	Detail string
}

// StopReport describes how a stop completed
type StopReport struct {
	// Forced is true when the grace period elapsed and the process was killed
	Forced bool
	// AlreadyStopped is true when no process was running
	AlreadyStopped bool
}

// Backend translates lifecycle verbs into OS-specific actions. Backends
// hold no state of their own beyond what the Store persists; every call
// receives the current record.
type Backend interface {
	// Kind identifies the backend
	Kind() BackendKind

	// Install writes the platform artifact and returns its location
	Install(ctx context.Context, st ServiceState) (string, error)

	// Uninstall removes the platform artifact
	Uninstall(ctx context.Context, st ServiceState) error

	// Start launches the service and blocks until it is confirmed running
	Start(ctx context.Context, st ServiceState) (Observation, error)

	// Stop terminates the service, escalating after the grace period
	Stop(ctx context.Context, st ServiceState) (StopReport, error)

	// QueryStatus actively checks the service rather than trusting the record
	QueryStatus(ctx context.Context, st ServiceState) (Observation, error)
}

// BackendConfig contains the settings shared by all backends
type BackendConfig struct {
	// Kind selects the backend
	Kind BackendKind
	// InitDir is where init scripts are written
	InitDir string
	// RCDir is the parent of the rcN.d runlevel link directories
	RCDir string
	// UnitDir is where systemd unit files are written
	UnitDir string
	// RunDir holds pidfiles
	RunDir string
	// LogDir receives service output
	LogDir string
	// StopGrace is the wait between SIGTERM and SIGKILL
	StopGrace time.Duration
	// KillWait bounds the wait after SIGKILL
	KillWait time.Duration
	// StartTimeout bounds the wait for start confirmation
	StartTimeout time.Duration
	// StartSettle is how long a new process must stay alive to count as running
	StartSettle time.Duration
	// PollInterval is the liveness polling interval
	PollInterval time.Duration
	// UseSudo runs systemctl through SudoCommand
	UseSudo bool
	// SudoCommand is the privilege escalation command
	SudoCommand string
	// SystemctlPath is the path to the systemctl binary
	SystemctlPath string
	// Clock drives timers; tests may substitute a mock
	Clock clock.Clock
	// Logger receives backend diagnostics
	Logger zerolog.Logger
}

// DefaultBackendConfig returns the defaults for the given backend kind
func DefaultBackendConfig(kind BackendKind) BackendConfig {
	return BackendConfig{
		Kind:          kind,
		InitDir:       DefaultInitDir,
		RCDir:         DefaultRCDir,
		UnitDir:       DefaultUnitDir,
		RunDir:        DefaultRunDir,
		LogDir:        PlatformLogDir(),
		StopGrace:     DefaultStopGrace,
		KillWait:      DefaultKillWait,
		StartTimeout:  DefaultStartTimeout,
		StartSettle:   DefaultStartSettle,
		PollInterval:  DefaultPollInterval,
		SudoCommand:   "sudo",
		SystemctlPath: "systemctl",
		Clock:         clock.New(),
		Logger:        zerolog.Nop(),
	}
}

func (c *BackendConfig) fillDefaults() {
	def := DefaultBackendConfig(c.Kind)
	if c.InitDir == "" {
		c.InitDir = def.InitDir
	}
	if c.RCDir == "" {
		c.RCDir = def.RCDir
	}
	if c.UnitDir == "" {
		c.UnitDir = def.UnitDir
	}
	if c.RunDir == "" {
		c.RunDir = def.RunDir
	}
	if c.LogDir == "" {
		c.LogDir = def.LogDir
	}
	if c.StopGrace <= 0 {
		c.StopGrace = def.StopGrace
	}
	if c.KillWait <= 0 {
		c.KillWait = def.KillWait
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = def.StartTimeout
	}
	if c.StartSettle <= 0 {
		c.StartSettle = def.StartSettle
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.SudoCommand == "" {
		c.SudoCommand = def.SudoCommand
	}
	if c.SystemctlPath == "" {
		c.SystemctlPath = def.SystemctlPath
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
}

// NewBackend creates the backend selected by cfg.Kind. Backends that the
// current platform cannot run return ErrBackendUnavailable.
func NewBackend(cfg BackendConfig) (Backend, error) {
	if cfg.Kind == BackendUnknown {
		cfg.Kind = DefaultBackendKind()
	}
	cfg.fillDefaults()

	switch cfg.Kind {
	case BackendInitScript:
		return newInitScriptBackend(cfg)
	case BackendSystemd:
		return newSystemdBackend(cfg)
	case BackendWindows:
		return newWindowsBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, cfg.Kind)
	}
}
