package svcctl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBackend is an in-memory Backend for testing code built on Manager.
// It spawns nothing; processes are simulated with fake PIDs.
type MockBackend struct {
	// InstallErr, StartErr and StopErr are returned by the matching calls when set
	InstallErr error
	StartErr   error
	StopErr    error
	// ForceKill makes Stop report that the grace period expired
	ForceKill bool

	mu       sync.Mutex
	services map[string]*mockService
	nextPID  int
	calls    map[string]int
}

type mockService struct {
	path    string
	pid     int
	created int64
}

// NewMockBackend creates an empty MockBackend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		services: make(map[string]*mockService),
		nextPID:  4000,
		calls:    make(map[string]int),
	}
}

// Kind identifies the mock as the init script backend
func (b *MockBackend) Kind() BackendKind {
	return BackendInitScript
}

func (b *MockBackend) record(call string) {
	b.calls[call]++
}

// Calls returns how many times the named Backend method was invoked
func (b *MockBackend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Install records the service
func (b *MockBackend) Install(_ context.Context, st ServiceState) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("Install")

	if b.InstallErr != nil {
		return "", b.InstallErr
	}
	if _, ok := b.services[st.Name]; ok {
		return "", ErrAlreadyInstalled
	}
	path := "mock://" + st.Name
	b.services[st.Name] = &mockService{path: path}
	return path, nil
}

// Uninstall forgets the service
func (b *MockBackend) Uninstall(_ context.Context, st ServiceState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("Uninstall")

	delete(b.services, st.Name)
	return nil
}

// Start assigns a fresh fake PID
func (b *MockBackend) Start(_ context.Context, st ServiceState) (Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("Start")

	svc, ok := b.services[st.Name]
	if !ok {
		return Observation{}, ErrNotInstalled
	}
	if b.StartErr != nil {
		return Observation{}, b.StartErr
	}
	b.spawnLocked(svc)
	return Observation{Status: StatusRunning, PID: svc.pid, PIDStartTime: svc.created}, nil
}

// Stop clears the fake PID
func (b *MockBackend) Stop(_ context.Context, st ServiceState) (StopReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("Stop")

	svc, ok := b.services[st.Name]
	if !ok || svc.pid == 0 {
		return StopReport{AlreadyStopped: true}, nil
	}
	if b.StopErr != nil {
		return StopReport{}, b.StopErr
	}
	svc.pid, svc.created = 0, 0
	return StopReport{Forced: b.ForceKill}, nil
}

// QueryStatus reports the simulated process
func (b *MockBackend) QueryStatus(_ context.Context, st ServiceState) (Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("QueryStatus")

	svc, ok := b.services[st.Name]
	switch {
	case !ok:
		return Observation{Status: StatusNotInstalled, Detail: "not registered"}, nil
	case svc.pid == 0:
		return Observation{Status: StatusStopped, Detail: "no process"}, nil
	default:
		return Observation{Status: StatusRunning, PID: svc.pid, PIDStartTime: svc.created}, nil
	}
}

// Kill simulates the service process dying without a stop request
func (b *MockBackend) Kill(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if svc, ok := b.services[name]; ok {
		svc.pid, svc.created = 0, 0
	}
}

// Spawn simulates the service being started outside the manager, e.g. by
// the init script at boot. It returns the new PID.
func (b *MockBackend) Spawn(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	svc, ok := b.services[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	b.spawnLocked(svc)
	return svc.pid, nil
}

// PID returns the simulated PID of name, or 0 when it is not running
func (b *MockBackend) PID(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if svc, ok := b.services[name]; ok {
		return svc.pid
	}
	return 0
}

// Installed reports whether name has been installed and not uninstalled
func (b *MockBackend) Installed(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.services[name]
	return ok
}

func (b *MockBackend) spawnLocked(svc *mockService) {
	b.nextPID++
	svc.pid = b.nextPID
	svc.created = time.Now().UnixMilli() + int64(b.nextPID)
}
