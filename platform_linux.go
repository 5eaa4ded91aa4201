//go:build linux

package svcctl

// DefaultBackendKind returns systemd when it is the running init system,
// otherwise init scripts
func DefaultBackendKind() BackendKind {
	if systemdBooted() {
		return BackendSystemd
	}
	return BackendInitScript
}
