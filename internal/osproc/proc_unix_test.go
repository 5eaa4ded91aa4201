//go:build unix

package osproc

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func TestSignalGroup(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & wait")
	cmd.SysProcAttr = DetachedAttr()
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting child: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := SignalGroup(cmd.Process.Pid, syscall.SIGTERM); err != nil {
		t.Fatalf("SignalGroup: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = SignalGroup(cmd.Process.Pid, syscall.SIGKILL)
		t.Fatal("process group survived SIGTERM")
	}

	err := SignalGroup(cmd.Process.Pid, syscall.SIGTERM)
	if !IsNoProcess(err) {
		t.Errorf("signalling a reaped group = %v, want ESRCH", err)
	}
}

func TestOwns(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reading another process environment needs /proc")
	}
	ctx := context.Background()

	cmd := exec.Command("sleep", "30")
	cmd.Env = append(os.Environ(), "SVCCTL_SERVICE=api")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting child: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	pid := cmd.Process.Pid

	tests := []struct {
		name    string
		marker  string
		cmdline []string
		want    bool
	}{
		{"marker", "SVCCTL_SERVICE=api", nil, true},
		{"other service", "SVCCTL_SERVICE=web", nil, false},
		{"command line", "SVCCTL_SERVICE=web", []string{"sleep", "30"}, true},
		{"different command line", "SVCCTL_SERVICE=web", []string{"sleep", "31"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Owns(ctx, pid, tt.marker, tt.cmdline)
			if err != nil {
				t.Fatalf("Owns: %v", err)
			}
			if got != tt.want {
				t.Errorf("Owns = %v, want %v", got, tt.want)
			}
		})
	}

	if got, _ := Owns(ctx, 0, "SVCCTL_SERVICE=api", nil); got {
		t.Error("pid 0 is never owned")
	}
}
