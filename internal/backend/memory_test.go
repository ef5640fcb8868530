package backend

import (
	"context"
	"strings"
	"testing"
)

func TestMemoryBackendRoundTrip(t *testing.T) {
	mem := NewMemoryBackend()
	mem.Respond = func(sessionID, input string) string {
		return "ack: " + strings.TrimSpace(input)
	}
	ctx := context.Background()

	if err := mem.Create(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	exists, err := mem.Exists(ctx, "s1")
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}

	if err := mem.SendInput(ctx, "s1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	output, err := mem.CaptureOutput(ctx, "s1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !strings.Contains(output, "ack: hello") {
		t.Fatalf("unexpected output: %q", output)
	}

	if err := mem.Destroy(ctx, "s1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if exists, _ := mem.Exists(ctx, "s1"); exists {
		t.Fatal("expected session gone after destroy")
	}
}

func TestMemoryBackendMissingSessionErrors(t *testing.T) {
	mem := NewMemoryBackend()
	ctx := context.Background()

	if err := mem.SendInput(ctx, "ghost", "x"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := mem.CaptureOutput(ctx, "ghost"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mem.Destroy(ctx, "ghost"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryBackendDropSimulatesLostSession(t *testing.T) {
	mem := NewMemoryBackend()
	ctx := context.Background()
	if err := mem.Create(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	mem.Drop("s1")
	if exists, _ := mem.Exists(ctx, "s1"); exists {
		t.Fatal("expected dropped session to be missing")
	}
}
