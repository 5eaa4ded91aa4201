//go:build !linux

package svcctl

import "fmt"

func newSystemdBackend(BackendConfig) (Backend, error) {
	return nil, fmt.Errorf("%w: systemd is only supported on Linux", ErrBackendUnavailable)
}
