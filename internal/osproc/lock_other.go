//go:build !unix && !windows

package osproc

import (
	"context"
	"os"
	"time"
)

// Lock holds the lock file open; this platform has no advisory locking
type Lock struct {
	f *os.File
}

// LockFile opens path without locking it
func LockFile(_ context.Context, path string, _ time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Unlock closes the file
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
