//go:build !unix && !windows

package svcctl

// DefaultBackendKind reports that no backend supports this platform
func DefaultBackendKind() BackendKind {
	return BackendUnknown
}
