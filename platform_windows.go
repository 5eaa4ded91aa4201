//go:build windows

package svcctl

// DefaultBackendKind returns the Service Control Manager backend
func DefaultBackendKind() BackendKind {
	return BackendWindows
}
