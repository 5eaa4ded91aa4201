//go:build unix || windows

package osproc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLockFileExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.lock")

	l, err := LockFile(context.Background(), path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := LockFile(ctx, path, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second LockFile = %v, want deadline exceeded", err)
	}

	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	// Unlocking twice is harmless
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}

	l2, err := LockFile(context.Background(), path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("LockFile after release: %v", err)
	}
	_ = l2.Unlock()
}
