package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defaults := Defaults()
	if settings.Server.Port != defaults.Server.Port {
		t.Fatalf("expected default port %d, got %d", defaults.Server.Port, settings.Server.Port)
	}
	if settings.Router.CaptureDelay.Std() != 8*time.Second {
		t.Fatalf("unexpected capture delay: %s", settings.Router.CaptureDelay.Std())
	}
}

func TestLoadOverlaysFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	payload := `
server:
  port: 9000
backend:
  kind: pty
router:
  capture_delay: 3s
health:
  probe_interval: 10s
  failure_threshold: 2
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Server.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", settings.Server.Port)
	}
	if settings.Backend.Kind != BackendPTY {
		t.Fatalf("expected pty backend, got %q", settings.Backend.Kind)
	}
	if settings.Router.CaptureDelay.Std() != 3*time.Second {
		t.Fatalf("unexpected capture delay: %s", settings.Router.CaptureDelay.Std())
	}
	if settings.Health.FailureThreshold != 2 {
		t.Fatalf("unexpected threshold: %d", settings.Health.FailureThreshold)
	}
	// Untouched sections keep defaults.
	if settings.Session.CreateTimeout.Std() != 15*time.Second {
		t.Fatalf("unexpected create timeout: %s", settings.Session.CreateTimeout.Std())
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  kind: screen\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDurationAcceptsIntegerSeconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("router:\n  capture_delay: 12\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	settings, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Router.CaptureDelay.Std() != 12*time.Second {
		t.Fatalf("unexpected capture delay: %s", settings.Router.CaptureDelay.Std())
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	settings := Defaults()
	settings.Server.Port = -1
	if err := settings.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
