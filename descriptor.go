package svcctl

import (
	"context"
	"fmt"
	"os"
	"regexp"
)

// EntryPoint is the business logic a service runs. Run blocks until the
// service finishes; ctx is cancelled when a stop is requested.
type EntryPoint interface {
	Run(ctx context.Context) error
}

// EntryFunc adapts a plain function to EntryPoint
type EntryFunc func(ctx context.Context) error

// Run calls f(ctx)
func (f EntryFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Hooks receives lifecycle notifications for one service. Each hook runs in
// the controlling process after the corresponding transition was persisted.
type Hooks interface {
	Installed(ctx context.Context, st ServiceState) error
	Uninstalled(ctx context.Context, name string) error
	Started(ctx context.Context, st ServiceState) error
	Stopped(ctx context.Context, st ServiceState) error
}

// NopHooks implements Hooks with no-ops; embed it to override only some hooks
type NopHooks struct{}

// Installed does nothing
func (NopHooks) Installed(context.Context, ServiceState) error { return nil }

// Uninstalled does nothing
func (NopHooks) Uninstalled(context.Context, string) error { return nil }

// Started does nothing
func (NopHooks) Started(context.Context, ServiceState) error { return nil }

// Stopped does nothing
func (NopHooks) Stopped(context.Context, ServiceState) error { return nil }

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateName checks that name maps to a single, safe file or registry key
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateEnvKey checks that key is a plain environment variable name,
// safe to place unquoted in an init script or unit file
func ValidateEnvKey(key string) error {
	if !envKeyPattern.MatchString(key) {
		return fmt.Errorf("svcctl: invalid environment variable name %q", key)
	}
	return nil
}

func validateEnv(env map[string]string) error {
	for k := range env {
		if err := ValidateEnvKey(k); err != nil {
			return err
		}
	}
	return nil
}

// ServiceDescriptor describes the identity and behaviour of one service.
// The name is fixed at construction.
type ServiceDescriptor struct {
	name string

	// Description is surfaced to the OS service manager
	Description string
	// EntryPoint is invoked when the service runs
	EntryPoint EntryPoint
	// AutoStart registers the service to launch at boot
	AutoStart bool
	// Command re-launches the hosting program in service mode
	Command []string
	// Env holds extra environment variables for the service process
	Env map[string]string
	// WorkDir is the working directory of the service process
	WorkDir string
	// Hooks receives lifecycle notifications, may be nil
	Hooks Hooks
}

// DescriptorOption configures a ServiceDescriptor
type DescriptorOption func(*ServiceDescriptor)

// WithCommand sets the command that launches the service process
func WithCommand(cmd ...string) DescriptorOption {
	return func(d *ServiceDescriptor) {
		d.Command = append([]string(nil), cmd...)
	}
}

// WithEnv adds an environment variable for the service process
func WithEnv(key, value string) DescriptorOption {
	return func(d *ServiceDescriptor) {
		if d.Env == nil {
			d.Env = make(map[string]string)
		}
		d.Env[key] = value
	}
}

// WithWorkDir sets the working directory of the service process
func WithWorkDir(dir string) DescriptorOption {
	return func(d *ServiceDescriptor) {
		d.WorkDir = dir
	}
}

// WithHooks attaches lifecycle hooks
func WithHooks(h Hooks) DescriptorOption {
	return func(d *ServiceDescriptor) {
		d.Hooks = h
	}
}

// Register builds a ServiceDescriptor. Unless WithCommand is given, the
// service is launched by re-executing the current binary with "run".
func Register(name, description string, entry EntryPoint, autoStart bool, opts ...DescriptorOption) (*ServiceDescriptor, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("svcctl: service %q has no entry point", name)
	}

	d := &ServiceDescriptor{
		name:        name,
		Description: description,
		EntryPoint:  entry,
		AutoStart:   autoStart,
	}

	for _, opt := range opts {
		opt(d)
	}

	if err := validateEnv(d.Env); err != nil {
		return nil, err
	}

	if len(d.Command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving executable: %w", err)
		}
		d.Command = []string{exe, OpRun.String()}
	}

	return d, nil
}

// Name returns the service name
func (d *ServiceDescriptor) Name() string {
	return d.name
}

func (d *ServiceDescriptor) hooks() Hooks {
	if d == nil || d.Hooks == nil {
		return NopHooks{}
	}
	return d.Hooks
}

// newState builds the initial record for an installed service
func (d *ServiceDescriptor) newState() ServiceState {
	st := ServiceState{
		Name:        d.name,
		Status:      StatusInstalled,
		AutoStart:   d.AutoStart,
		Description: d.Description,
		Command:     append([]string(nil), d.Command...),
		WorkDir:     d.WorkDir,
	}
	if len(d.Env) > 0 {
		st.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			st.Env[k] = v
		}
	}
	return st
}
