package svcctl

import (
	"os"
	"path/filepath"
	"runtime"
)

// systemdRuntimeDir exists only when systemd is the running init system
var systemdRuntimeDir = "/run/systemd/system"

func programDataDir() string {
	if dir := os.Getenv("ProgramData"); dir != "" {
		return dir
	}
	return `C:\ProgramData`
}

// PlatformStateDir returns the default state record directory for the
// current OS
func PlatformStateDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(programDataDir(), "svcctl", "state")
	}
	return DefaultStateDir
}

// PlatformLogDir returns the default service log directory for the current OS
func PlatformLogDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(programDataDir(), "svcctl", "logs")
	}
	return DefaultLogDir
}

func systemdBooted() bool {
	fi, err := os.Stat(systemdRuntimeDir)
	return err == nil && fi.IsDir()
}
