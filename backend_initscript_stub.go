//go:build !unix

package svcctl

import "fmt"

func newInitScriptBackend(BackendConfig) (Backend, error) {
	return nil, fmt.Errorf("%w: init scripts need a POSIX system", ErrBackendUnavailable)
}
