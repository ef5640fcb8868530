package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cohort/internal/backend"
	"cohort/internal/event"
	"cohort/internal/roster"
	"cohort/internal/session"
)

const healthTestRoles = `
agents:
  - id: backend
    role: Backend Manager
  - id: database
    role: Database Manager
`

type fakeInvalidator struct {
	calls atomic.Int64
	last  atomic.Value
}

func (f *fakeInvalidator) Invalidate(agentID string) {
	f.calls.Add(1)
	f.last.Store(agentID)
}

func newTestMonitor(t *testing.T, mem *backend.MemoryBackend, bus *event.Bus[event.Event]) (*Monitor, *session.Manager, *fakeInvalidator) {
	t.Helper()
	loaded, err := roster.Parse([]byte(healthTestRoles))
	if err != nil {
		t.Fatalf("parse roster: %v", err)
	}
	sessions := session.NewManager(session.ManagerOptions{
		Backend:         mem,
		Roster:          loaded,
		SessionPrefix:   "cohort",
		InitSettleDelay: time.Millisecond,
		RetryBackoff:    time.Millisecond,
	})
	invalidator := &fakeInvalidator{}
	monitor := NewMonitor(MonitorOptions{
		Sessions:         sessions,
		Backend:          mem,
		Invalidator:      invalidator,
		Bus:              bus,
		FailureThreshold: 3,
	})
	monitor.sleep = func(context.Context, time.Duration) error { return nil }
	return monitor, sessions, invalidator
}

func TestProbeHealthyAgentResetsFailures(t *testing.T) {
	mem := backend.NewMemoryBackend()
	mem.SuppressEcho = true
	mem.Respond = func(sessionID, input string) string { return "still here" }
	monitor, sessions, _ := newTestMonitor(t, mem, nil)

	if _, err := sessions.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	monitor.failures["backend"] = 2

	monitor.probeAll(context.Background())

	snapshot := monitor.Snapshot()
	if snapshot["backend"].ConsecutiveFailures != 0 {
		t.Fatalf("failures not reset: %+v", snapshot["backend"])
	}
	if snapshot["backend"].LastProbeAt.IsZero() {
		t.Fatal("probe time not recorded")
	}
}

func TestWedgedWorkerRecoversAfterThreshold(t *testing.T) {
	// Session exists but the worker never writes output: a wedged process.
	mem := backend.NewMemoryBackend()
	mem.SuppressEcho = true
	bus := event.NewBus[event.Event](context.Background(), event.BusOptions{})
	monitor, sessions, invalidator := newTestMonitor(t, mem, bus)

	if _, err := sessions.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	events, cancel := bus.Subscribe()
	defer cancel()

	// Two failed probes stay below the threshold.
	monitor.probeAll(context.Background())
	monitor.probeAll(context.Background())
	if invalidator.calls.Load() != 0 {
		t.Fatal("restart fired before the threshold")
	}
	handle, _ := sessions.Get("backend")
	if handle.Status != session.StatusActive {
		t.Fatalf("status flipped early: %s", handle.Status)
	}

	// Third strike restarts the session.
	monitor.probeAll(context.Background())
	if invalidator.calls.Load() != 1 {
		t.Fatalf("expected 1 invalidation, got %d", invalidator.calls.Load())
	}
	if invalidator.last.Load() != "backend" {
		t.Fatalf("wrong agent invalidated: %v", invalidator.last.Load())
	}
	handle, _ = sessions.Get("backend")
	if handle.Status != session.StatusActive {
		t.Fatalf("expected active after recovery, got %s", handle.Status)
	}
	snapshot := monitor.Snapshot()
	if snapshot["backend"].ConsecutiveFailures != 0 {
		t.Fatalf("failures not reset after recovery: %+v", snapshot["backend"])
	}
	if snapshot["backend"].LastRecoveryAt.IsZero() {
		t.Fatal("recovery time not recorded")
	}

	sawUnresponsive := false
	for i := 0; i < 8; i++ {
		select {
		case published := <-events:
			if health, ok := published.(event.HealthEvent); ok && health.Current == string(session.StatusUnresponsive) {
				sawUnresponsive = true
			}
		default:
		}
	}
	if !sawUnresponsive {
		t.Fatal("no unresponsive health event published")
	}
}

func TestFailedRecoveryKeepsCounting(t *testing.T) {
	mem := backend.NewMemoryBackend()
	mem.SuppressEcho = true
	monitor, sessions, _ := newTestMonitor(t, mem, nil)

	if _, err := sessions.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Recreation is refused, so recovery cannot succeed.
	mem.FailCreate = map[string]bool{"cohort-backend": true}

	for i := 0; i < 3; i++ {
		monitor.probeAll(context.Background())
	}
	snapshot := monitor.Snapshot()
	if snapshot["backend"].ConsecutiveFailures < 3 {
		t.Fatalf("failures must persist when recovery fails: %+v", snapshot["backend"])
	}
	handle, _ := sessions.Get("backend")
	if handle.Status == session.StatusActive {
		t.Fatal("agent cannot be active after a failed recovery")
	}
}

func TestProbeSkipsOfflineAgents(t *testing.T) {
	mem := backend.NewMemoryBackend()
	mem.SuppressEcho = true
	monitor, sessions, _ := newTestMonitor(t, mem, nil)

	if _, err := sessions.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := sessions.StopSession(context.Background(), "backend"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	monitor.probeAll(context.Background())
	snapshot := monitor.Snapshot()
	if !snapshot["backend"].LastProbeAt.IsZero() {
		t.Fatal("offline agent must not be probed")
	}
}

func TestLostSessionCountsAsFailure(t *testing.T) {
	mem := backend.NewMemoryBackend()
	mem.SuppressEcho = true
	mem.Respond = func(sessionID, input string) string { return "alive" }
	monitor, sessions, _ := newTestMonitor(t, mem, nil)

	if _, err := sessions.EnsureSession(context.Background(), "backend"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	mem.Drop("cohort-backend")

	monitor.probeAll(context.Background())
	snapshot := monitor.Snapshot()
	if snapshot["backend"].ConsecutiveFailures != 1 {
		t.Fatalf("missing session must fail the probe: %+v", snapshot["backend"])
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	mem := backend.NewMemoryBackend()
	monitor, _, _ := newTestMonitor(t, mem, nil)
	monitor.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
