package svcctl

import (
	"fmt"
	"os"
	"path/filepath"
)

// DevTree roots every svcctl directory under one base directory so services
// can be installed and run without root, e.g. for development and tests.
// Boot registration still targets the tree's own rc directories, so nothing
// outside Base is touched.
type DevTree struct {
	// Base is the root directory of the development tree
	Base string
}

// NewDevTree creates a DevTree rooted at base
func NewDevTree(base string) (*DevTree, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving base path: %w", err)
	}
	return &DevTree{Base: absBase}, nil
}

// StateDir returns the path to the state record directory
func (d *DevTree) StateDir() string {
	return filepath.Join(d.Base, "state")
}

// RunDir returns the path to the pidfile directory
func (d *DevTree) RunDir() string {
	return filepath.Join(d.Base, "run")
}

// InitDir returns the path to the init script directory
func (d *DevTree) InitDir() string {
	return filepath.Join(d.Base, "init.d")
}

// RCDir returns the parent of the rcN.d link directories
func (d *DevTree) RCDir() string {
	return d.Base
}

// UnitDir returns the path to the unit file directory
func (d *DevTree) UnitDir() string {
	return filepath.Join(d.Base, "units")
}

// LogDir returns the path to the log directory
func (d *DevTree) LogDir() string {
	return filepath.Join(d.Base, "log")
}

// Ensure creates the development tree directory structure if it doesn't exist
func (d *DevTree) Ensure() error {
	dirs := []string{
		d.StateDir(),
		d.RunDir(),
		d.InitDir(),
		d.UnitDir(),
		d.LogDir(),
	}
	for lvl := 0; lvl <= 6; lvl++ {
		dirs = append(dirs, filepath.Join(d.RCDir(), fmt.Sprintf("rc%d.d", lvl)))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}

// BackendConfig returns a backend configuration using the tree's directories
func (d *DevTree) BackendConfig(kind BackendKind) BackendConfig {
	cfg := DefaultBackendConfig(kind)
	cfg.InitDir = d.InitDir()
	cfg.RCDir = d.RCDir()
	cfg.UnitDir = d.UnitDir()
	cfg.RunDir = d.RunDir()
	cfg.LogDir = d.LogDir()
	return cfg
}

// Config returns file settings using the tree's directories
func (d *DevTree) Config() Config {
	cfg := DefaultConfig()
	cfg.Backend = backendInitScriptStr
	cfg.StateDir = d.StateDir()
	cfg.RunDir = d.RunDir()
	cfg.InitDir = d.InitDir()
	cfg.RCDir = d.RCDir()
	cfg.UnitDir = d.UnitDir()
	cfg.LogDir = d.LogDir()
	return cfg
}
