package svcctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/axondata/go-svcctl/internal/osproc"
)

// toolAvailabilityCache caches the results of tool availability checks
// to avoid repeated exec.LookPath calls during test execution
var (
	toolAvailabilityCache = make(map[string]bool)
	toolAvailabilityMu    sync.RWMutex

	systemdAvailable bool
	systemdOnce      sync.Once
)

// checkToolCached returns whether a tool is available, using cache
func checkToolCached(toolName string) bool {
	toolAvailabilityMu.RLock()
	if available, ok := toolAvailabilityCache[toolName]; ok {
		toolAvailabilityMu.RUnlock()
		return available
	}
	toolAvailabilityMu.RUnlock()

	toolAvailabilityMu.Lock()
	defer toolAvailabilityMu.Unlock()

	// Double-check after acquiring write lock
	if available, ok := toolAvailabilityCache[toolName]; ok {
		return available
	}

	_, err := exec.LookPath(toolName)
	available := err == nil
	toolAvailabilityCache[toolName] = available
	return available
}

// RequireTool skips the test if the tool is not available in PATH.
func RequireTool(t *testing.T, toolName string) {
	t.Helper()
	if !checkToolCached(toolName) {
		t.Skipf("%s not found in PATH, skipping test (install it to run this test)", toolName)
	}
}

// RequireRoot skips the test if not running as root.
// Use this for tests that touch system directories or the system manager.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("test requires root privileges (run with sudo to enable)")
	}
}

// RequireLinux skips the test if not running on Linux.
func RequireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("test requires Linux")
	}
}

// RequirePOSIX skips the test on platforms without a POSIX shell
func RequirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test requires a POSIX system")
	}
	RequireTool(t, "sh")
}

// RequireNotShort skips the test if running in short mode.
// Use this for integration tests that spawn real processes.
func RequireNotShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireSystemd ensures a booted systemd with systemctl is available
func RequireSystemd(t *testing.T) {
	t.Helper()
	RequireLinux(t)
	systemdOnce.Do(func() {
		systemdAvailable = checkToolCached("systemctl") && systemdBooted()
	})
	if !systemdAvailable {
		t.Skip("systemd is not running on this host, skipping test")
	}
}

// CheckToolAvailable returns true if a tool is available in PATH.
// This is a non-skipping version for conditional logic.
func CheckToolAvailable(tool string) bool {
	return checkToolCached(tool)
}

// WaitForStatus polls Manager.Status until the service reaches want
func WaitForStatus(t *testing.T, m *Manager, name string, want Status, timeout time.Duration) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := m.Status(context.Background(), name)
		if err == nil && st.Status == want {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Check one more time in case of race condition at deadline
	st, err := m.Status(context.Background(), name)
	if err != nil {
		return fmt.Errorf("service did not reach %s within %v (status error: %v)", want, timeout, err)
	}
	if st.Status == want {
		return nil
	}
	return fmt.Errorf("service did not reach %s within %v (current: %s)", want, timeout, st)
}

// WaitForProcessExit polls until pid no longer names a live process
func WaitForProcessExit(t *testing.T, pid int, timeout time.Duration) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, err := osproc.Alive(context.Background(), pid, 0); err == nil && !alive {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("process %d still running after %v", pid, timeout)
}
