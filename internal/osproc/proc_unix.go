//go:build unix

package osproc

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// DetachedAttr starts a child in a new session, detached from the
// controlling terminal and leading its own process group
func DetachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// SignalGroup sends sig to the process group led by pid, falling back to
// the single process when pid does not lead a group
func SignalGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	return err
}

// IsNoProcess reports whether err means the target process does not exist
func IsNoProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

// IsPermission reports whether err means the caller may not signal the target
func IsPermission(err error) bool {
	return errors.Is(err, unix.EPERM)
}
