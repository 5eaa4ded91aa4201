package svcctl

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a service
type Status int

const (
	// StatusNotInstalled indicates no state record exists
	StatusNotInstalled Status = iota
	// StatusInstalled indicates the platform artifact exists and the service never ran
	StatusInstalled
	// StatusStarting indicates the process was launched and is awaiting confirmation
	StatusStarting
	// StatusRunning indicates the process is alive
	StatusRunning
	// StatusStopping indicates a stop request is in flight
	StatusStopping
	// StatusStopped indicates the process was stopped
	StatusStopped
	// StatusFailed indicates a transition failed or the process died unexpectedly
	StatusFailed
)

// Status string constants
const (
	statusNotInstalledStr = "not-installed"
	statusInstalledStr    = "installed"
	statusStartingStr     = "starting"
	statusRunningStr      = "running"
	statusStoppingStr     = "stopping"
	statusStoppedStr      = "stopped"
	statusFailedStr       = "failed"
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return statusInstalledStr
	case StatusStarting:
		return statusStartingStr
	case StatusRunning:
		return statusRunningStr
	case StatusStopping:
		return statusStoppingStr
	case StatusStopped:
		return statusStoppedStr
	case StatusFailed:
		return statusFailedStr
	default:
		return statusNotInstalledStr
	}
}

// ParseStatus parses the string form produced by Status.String
func ParseStatus(s string) (Status, error) {
	switch s {
	case statusNotInstalledStr:
		return StatusNotInstalled, nil
	case statusInstalledStr:
		return StatusInstalled, nil
	case statusStartingStr:
		return StatusStarting, nil
	case statusRunningStr:
		return StatusRunning, nil
	case statusStoppingStr:
		return StatusStopping, nil
	case statusStoppedStr:
		return StatusStopped, nil
	case statusFailedStr:
		return StatusFailed, nil
	default:
		return StatusNotInstalled, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalText encodes the status as its string form
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes the string form of a status
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Active reports whether a process is expected to exist in this state
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// transitions lists the states reachable from each state
var transitions = map[Status][]Status{
	StatusNotInstalled: {StatusInstalled},
	StatusInstalled:    {StatusStarting, StatusNotInstalled, StatusStopped, StatusRunning},
	StatusStarting:     {StatusRunning, StatusFailed, StatusStopping},
	StatusRunning:      {StatusStopping, StatusFailed, StatusStopped},
	StatusStopping:     {StatusStopped, StatusFailed},
	StatusStopped:      {StatusStarting, StatusNotInstalled, StatusRunning},
	StatusFailed:       {StatusStopping, StatusStopped},
}

// CanTransition reports whether the state machine allows moving from one status to another
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ServiceState is the persisted lifecycle record of one installed service
type ServiceState struct {
	// Name is the service name
	Name string `json:"name"`
	// Status is the last known lifecycle state
	Status Status `json:"status"`
	// PID is the service process ID, only set while Starting or Running
	PID int `json:"pid,omitempty"`
	// PIDStartTime is the process creation time in Unix milliseconds,
	// used to tell the recorded process apart from a later one reusing its PID
	PIDStartTime int64 `json:"pid_start_time,omitempty"`
	// InstalledPath is the platform artifact (init script, unit file or SCM name)
	InstalledPath string `json:"installed_path"`
	// Backend is the backend that installed the service
	Backend BackendKind `json:"backend"`
	// AutoStart records whether the service was registered to start at boot
	AutoStart bool `json:"auto_start"`
	// Description is the human readable description
	Description string `json:"description,omitempty"`
	// Command is the invocation that launches the service process
	Command []string `json:"command"`
	// Env holds extra environment variables for the service process
	Env map[string]string `json:"env,omitempty"`
	// WorkDir is the working directory of the service process
	WorkDir string `json:"work_dir,omitempty"`
	// InstalledAt is when the record was created
	InstalledAt time.Time `json:"installed_at"`
	// UpdatedAt is when the record was last written
	UpdatedAt time.Time `json:"updated_at"`
	// LastError describes the most recent failure or warning
	LastError string `json:"last_error,omitempty"`
}

// String returns a human-readable status line
func (s ServiceState) String() string {
	if s.Status.Active() && s.PID > 0 {
		return fmt.Sprintf("%s: %s (pid %d)", s.Name, s.Status, s.PID)
	}
	if s.LastError != "" {
		return fmt.Sprintf("%s: %s (%s)", s.Name, s.Status, s.LastError)
	}
	return fmt.Sprintf("%s: %s", s.Name, s.Status)
}

// clearProcess drops the process identity once no process is expected
func (s *ServiceState) clearProcess() {
	s.PID = 0
	s.PIDStartTime = 0
}

func (s ServiceState) clone() ServiceState {
	c := s
	if s.Command != nil {
		c.Command = append([]string(nil), s.Command...)
	}
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	return c
}

func decodeState(data []byte) (ServiceState, error) {
	var st ServiceState
	if err := json.Unmarshal(data, &st); err != nil {
		return ServiceState{}, fmt.Errorf("decoding state record: %w", err)
	}
	return st, nil
}
