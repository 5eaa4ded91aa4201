package svcctl

import (
	"io/fs"
	"time"
)

// Default locations for persisted artifacts on POSIX systems
const (
	// DefaultInitDir is where init scripts are written
	DefaultInitDir = "/etc/init.d"

	// DefaultRCDir is the parent of the rcN.d runlevel link directories
	DefaultRCDir = "/etc"

	// DefaultUnitDir is where systemd unit files are written
	DefaultUnitDir = "/etc/systemd/system"

	// DefaultRunDir holds one pidfile per running service
	DefaultRunDir = "/var/run/svcctl"

	// DefaultStateDir holds one state record and lock file per installed service
	DefaultStateDir = "/var/lib/svcctl"

	// DefaultLogDir receives the standard streams of daemonized services
	DefaultLogDir = "/var/log/svcctl"
)

// Timing defaults
const (
	// DefaultStopGrace is how long Stop waits after SIGTERM before escalating to SIGKILL
	DefaultStopGrace = 10 * time.Second

	// DefaultKillWait bounds the wait for a process to disappear after SIGKILL
	DefaultKillWait = 2 * time.Second

	// DefaultStartTimeout bounds the time Start blocks waiting for confirmation
	DefaultStartTimeout = 30 * time.Second

	// DefaultStartSettle is how long a freshly spawned daemon must stay alive
	// before it is reported Running
	DefaultStartSettle = 500 * time.Millisecond

	// DefaultPollInterval is the liveness polling interval used while waiting
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultWatchDebounce is the default debounce time for state record watching
	DefaultWatchDebounce = 25 * time.Millisecond
)

// EnvServiceName is set in the environment of a daemonized service process
// to the name of the service it runs as
const EnvServiceName = "SVCCTL_SERVICE"

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created files
	FileMode = 0o644

	// ExecMode is the default mode for executable scripts
	ExecMode = 0o755
)

// DefaultUmask is the default umask written into generated init scripts
var DefaultUmask fs.FileMode = 0o022

// Operation represents a lifecycle operation type
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpInstall writes the platform artifact and the state record
	OpInstall
	// OpUninstall removes the platform artifact and the state record
	OpUninstall
	// OpStart launches the service process
	OpStart
	// OpStop terminates the service process
	OpStop
	// OpRestart stops then starts the service
	OpRestart
	// OpStatus represents a status query operation
	OpStatus
	// OpRun executes the entry point inside the service process
	OpRun
)

// Operation string constants
const (
	opUnknownStr   = "unknown"
	opInstallStr   = "install"
	opUninstallStr = "uninstall"
	opStartStr     = "start"
	opStopStr      = "stop"
	opRestartStr   = "restart"
	opStatusStr    = "status"
	opRunStr       = "run"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpInstall:
		return opInstallStr
	case OpUninstall:
		return opUninstallStr
	case OpStart:
		return opStartStr
	case OpStop:
		return opStopStr
	case OpRestart:
		return opRestartStr
	case OpStatus:
		return opStatusStr
	case OpRun:
		return opRunStr
	default:
		return opUnknownStr
	}
}

// ParseOperation maps a command word to an Operation.
// "remove" is accepted as an alias for uninstall.
func ParseOperation(s string) Operation {
	switch s {
	case opInstallStr:
		return OpInstall
	case opUninstallStr, "remove":
		return OpUninstall
	case opStartStr:
		return OpStart
	case opStopStr:
		return OpStop
	case opRestartStr:
		return OpRestart
	case opStatusStr:
		return OpStatus
	case opRunStr:
		return OpRun
	default:
		return OpUnknown
	}
}
