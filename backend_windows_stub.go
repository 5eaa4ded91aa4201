//go:build !windows

package svcctl

import "fmt"

func newWindowsBackend(BackendConfig) (Backend, error) {
	return nil, fmt.Errorf("%w: the Service Control Manager is only available on Windows", ErrBackendUnavailable)
}
