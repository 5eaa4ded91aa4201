//go:build unix && !linux

package svcctl

// DefaultBackendKind returns the init-script backend
func DefaultBackendKind() BackendKind {
	return BackendInitScript
}
