package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cohort/internal/backend"
	"cohort/internal/roster"
)

const managerTestRoles = `
agents:
  - id: backend
    role: Backend Manager
    responsibilities: [own the service]
  - id: database
    role: Database Manager
`

type countingBackend struct {
	backend.Backend
	creates  atomic.Int64
	destroys atomic.Int64
}

func (c *countingBackend) Create(ctx context.Context, sessionID string) error {
	c.creates.Add(1)
	return c.Backend.Create(ctx, sessionID)
}

func (c *countingBackend) Destroy(ctx context.Context, sessionID string) error {
	c.destroys.Add(1)
	return c.Backend.Destroy(ctx, sessionID)
}

func newTestManager(t *testing.T, b backend.Backend) *Manager {
	t.Helper()
	loaded, err := roster.Parse([]byte(managerTestRoles))
	if err != nil {
		t.Fatalf("parse roster: %v", err)
	}
	manager := NewManager(ManagerOptions{
		Backend:       b,
		Roster:        loaded,
		SessionPrefix: "cohort",
	})
	manager.sleep = func(context.Context, time.Duration) error { return nil }
	return manager
}

func TestEnsureSessionCreatesAndInitializes(t *testing.T) {
	mem := backend.NewMemoryBackend()
	counting := &countingBackend{Backend: mem}
	manager := newTestManager(t, counting)

	handle, err := manager.EnsureSession(context.Background(), "backend")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if handle.Status != StatusActive {
		t.Fatalf("expected active, got %s", handle.Status)
	}
	if handle.SessionID != "cohort-backend" {
		t.Fatalf("unexpected session id %q", handle.SessionID)
	}

	output, err := mem.CaptureOutput(context.Background(), "cohort-backend")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !strings.Contains(output, "Backend Manager") {
		t.Fatalf("init preamble not sent:\n%s", output)
	}
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	counting := &countingBackend{Backend: backend.NewMemoryBackend()}
	manager := newTestManager(t, counting)

	if _, err := manager.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if _, err := manager.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if counting.creates.Load() != 1 {
		t.Fatalf("expected 1 create, got %d", counting.creates.Load())
	}
}

func TestEnsureSessionRecreatesLostBackendSession(t *testing.T) {
	mem := backend.NewMemoryBackend()
	counting := &countingBackend{Backend: mem}
	manager := newTestManager(t, counting)

	if _, err := manager.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	mem.Drop("cohort-backend")

	handle, err := manager.EnsureSession(context.Background(), "backend")
	if err != nil {
		t.Fatalf("ensure after drop: %v", err)
	}
	if handle.Status != StatusActive {
		t.Fatalf("expected active, got %s", handle.Status)
	}
	if counting.creates.Load() != 2 {
		t.Fatalf("expected recreate, got %d creates", counting.creates.Load())
	}
}

func TestEnsureSessionFailureSurfacesSessionUnavailable(t *testing.T) {
	mem := backend.NewMemoryBackend()
	mem.FailCreate = map[string]bool{"cohort-backend": true}
	counting := &countingBackend{Backend: mem}
	manager := newTestManager(t, counting)

	_, err := manager.EnsureSession(context.Background(), "backend")
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("expected ErrSessionUnavailable, got %v", err)
	}
	// One initial attempt plus one retry.
	if counting.creates.Load() != 2 {
		t.Fatalf("expected 2 create attempts, got %d", counting.creates.Load())
	}
	handle, ok := manager.Get("backend")
	if !ok || handle.Status != StatusOffline {
		t.Fatalf("expected offline handle, got %+v", handle)
	}
}

func TestEnsureSessionUnknownAgent(t *testing.T) {
	manager := newTestManager(t, backend.NewMemoryBackend())
	if _, err := manager.EnsureSession(context.Background(), "ghost"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestRestartSessionDestroysAndRecreates(t *testing.T) {
	counting := &countingBackend{Backend: backend.NewMemoryBackend()}
	manager := newTestManager(t, counting)

	if _, err := manager.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	handle, err := manager.RestartSession(context.Background(), "backend")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if handle.Status != StatusActive {
		t.Fatalf("expected active, got %s", handle.Status)
	}
	if counting.destroys.Load() == 0 {
		t.Fatal("expected destroy before recreate")
	}
	if counting.creates.Load() != 2 {
		t.Fatalf("expected 2 creates, got %d", counting.creates.Load())
	}
}

func TestStopSessionMarksOffline(t *testing.T) {
	manager := newTestManager(t, backend.NewMemoryBackend())

	if _, err := manager.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := manager.StopSession(context.Background(), "backend"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	handle, ok := manager.Get("backend")
	if !ok || handle.Status != StatusOffline {
		t.Fatalf("expected offline, got %+v", handle)
	}
}

func TestStopAllStopsEveryAgent(t *testing.T) {
	manager := newTestManager(t, backend.NewMemoryBackend())
	ctx := context.Background()

	for _, agentID := range []string{"backend", "database"} {
		if _, err := manager.EnsureSession(ctx, agentID); err != nil {
			t.Fatalf("ensure %s: %v", agentID, err)
		}
	}
	manager.StopAll(ctx)

	for agentID, handle := range manager.Snapshot() {
		if handle.Status != StatusOffline {
			t.Fatalf("agent %s not offline: %s", agentID, handle.Status)
		}
	}
}

func TestSingleLiveSessionPerAgent(t *testing.T) {
	manager := newTestManager(t, backend.NewMemoryBackend())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := manager.EnsureSession(ctx, "backend"); err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
	}
	snapshot := manager.Snapshot()
	live := 0
	for _, handle := range snapshot {
		if handle.Status != StatusOffline {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly 1 live session, got %d", live)
	}
}

func TestMarkUnresponsive(t *testing.T) {
	manager := newTestManager(t, backend.NewMemoryBackend())
	if _, err := manager.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	manager.MarkUnresponsive("backend")
	handle, _ := manager.Get("backend")
	if handle.Status != StatusUnresponsive {
		t.Fatalf("expected unresponsive, got %s", handle.Status)
	}
}
