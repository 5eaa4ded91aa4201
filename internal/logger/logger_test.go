package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "svc.log")

	l, closer, err := New(Config{Level: "debug", FilePath: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info().Str("service", "demo").Msg("started")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), `"service":"demo"`) {
		t.Errorf("log missing field, got %s", data)
	}
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")

	l, closer, err := New(Config{Level: "chatty", FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = closer.Close() }()

	if l.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", l.GetLevel())
	}
}

func TestWithComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.log")
	if err := Init(Config{Level: "info", FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{Level: "disabled"}) })

	l := WithComponent("manager")
	l.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), `"component":"manager"`) {
		t.Errorf("log missing component, got %s", data)
	}
}
