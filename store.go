package svcctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/google/renameio/v2/maybe"

	"github.com/axondata/go-svcctl/internal/osproc"
)

const (
	recordExt = ".json"
	lockExt   = ".lock"
)

// Store persists one ServiceState record per service name in a directory.
// Records are replaced atomically; each name has its own lock file.
type Store struct {
	// Dir is the directory holding records and lock files
	Dir string
}

// NewStore creates a Store rooted at dir
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// RecordPath returns the path of the record for name
func (s *Store) RecordPath(name string) string {
	return filepath.Join(s.Dir, name+recordExt)
}

// LockPath returns the path of the lock file for name
func (s *Store) LockPath(name string) string {
	return filepath.Join(s.Dir, name+lockExt)
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.Dir, DirMode); err != nil {
		return wrapFSError(err)
	}
	return nil
}

// Lock takes the exclusive per-name lock, blocking until it is free or ctx
// is done. Operations on different names never contend.
func (s *Store) Lock(ctx context.Context, name string) (unlock func(), err error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.ensureDir(); err != nil {
		return nil, err
	}

	l, err := osproc.LockFile(ctx, s.LockPath(name), DefaultPollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waiting for lock on %s", ErrTimeout, name)
		}
		return nil, wrapFSError(err)
	}

	return func() { _ = l.Unlock() }, nil
}

// Load reads the record for name. It reports false when none exists.
func (s *Store) Load(name string) (ServiceState, bool, error) {
	data, err := os.ReadFile(s.RecordPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ServiceState{}, false, nil
		}
		return ServiceState{}, false, wrapFSError(err)
	}

	st, err := decodeState(data)
	if err != nil {
		return ServiceState{}, false, err
	}
	return st, true, nil
}

// Save atomically replaces the record for st.Name
func (s *Store) Save(st ServiceState) error {
	if err := ValidateName(st.Name); err != nil {
		return err
	}
	if err := s.ensureDir(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state record: %w", err)
	}

	if err := maybe.WriteFile(s.RecordPath(st.Name), append(data, '\n'), FileMode); err != nil {
		return wrapFSError(err)
	}
	return nil
}

// Delete removes the record and the lock file for name. A missing record is
// not an error. On Windows the lock file stays, since it cannot be removed
// while the caller holds it open.
func (s *Store) Delete(name string) error {
	paths := []string{s.RecordPath(name)}
	if runtime.GOOS != "windows" {
		paths = append(paths, s.LockPath(name))
	}

	merr := &MultiError{}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			merr.Add(wrapFSError(err))
		}
	}
	return merr.Err()
}

// List returns the names of all services with a record, sorted
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapFSError(err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), recordExt)
		if ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// wrapFSError tags permission failures with ErrPermission
func wrapFSError(err error) error {
	if err != nil && errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}
