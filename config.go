package svcctl

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axondata/go-svcctl/internal/logger"
)

// Config is the file form of the manager settings
type Config struct {
	// Backend is "auto", "initscript", "systemd" or "windows"
	Backend      string        `yaml:"backend"`
	StateDir     string        `yaml:"state_dir"`
	RunDir       string        `yaml:"run_dir"`
	InitDir      string        `yaml:"init_dir"`
	RCDir        string        `yaml:"rc_dir"`
	UnitDir      string        `yaml:"unit_dir"`
	LogDir       string        `yaml:"log_dir"`
	StopGrace    time.Duration `yaml:"stop_grace"`
	KillWait     time.Duration `yaml:"kill_wait"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	StartSettle  time.Duration `yaml:"start_settle"`
	UseSudo      bool          `yaml:"use_sudo"`
	Log          logger.Config `yaml:"log"`
}

// DefaultConfig returns the platform defaults
func DefaultConfig() Config {
	return Config{
		Backend:      "auto",
		StateDir:     PlatformStateDir(),
		RunDir:       DefaultRunDir,
		InitDir:      DefaultInitDir,
		RCDir:        DefaultRCDir,
		UnitDir:      DefaultUnitDir,
		LogDir:       PlatformLogDir(),
		StopGrace:    DefaultStopGrace,
		KillWait:     DefaultKillWait,
		StartTimeout: DefaultStartTimeout,
		StartSettle:  DefaultStartSettle,
		Log:          logger.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file over the defaults. Durations use Go syntax,
// e.g. "10s".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the settings are usable
func (c Config) Validate() error {
	if _, err := ParseBackendKind(c.Backend); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.StateDir == "" {
		return fmt.Errorf("config: state_dir must be set")
	}
	for name, d := range map[string]time.Duration{
		"stop_grace":    c.StopGrace,
		"kill_wait":     c.KillWait,
		"start_timeout": c.StartTimeout,
		"start_settle":  c.StartSettle,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	return nil
}

// BackendConfig converts the file settings into a BackendConfig
func (c Config) BackendConfig() (BackendConfig, error) {
	kind, err := ParseBackendKind(c.Backend)
	if err != nil {
		return BackendConfig{}, err
	}
	return BackendConfig{
		Kind:         kind,
		InitDir:      c.InitDir,
		RCDir:        c.RCDir,
		UnitDir:      c.UnitDir,
		RunDir:       c.RunDir,
		LogDir:       c.LogDir,
		StopGrace:    c.StopGrace,
		KillWait:     c.KillWait,
		StartTimeout: c.StartTimeout,
		StartSettle:  c.StartSettle,
		UseSudo:      c.UseSudo,
	}, nil
}

// ManagerOptions converts the file settings into options for NewManager
func (c Config) ManagerOptions() ([]ManagerOption, error) {
	bc, err := c.BackendConfig()
	if err != nil {
		return nil, err
	}
	return []ManagerOption{
		WithStateDir(c.StateDir),
		WithBackendConfig(bc),
		WithStopGrace(c.StopGrace),
		WithStartTimeout(c.StartTimeout),
	}, nil
}
