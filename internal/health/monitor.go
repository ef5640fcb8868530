// Package health probes every managed session on an interval and recovers
// the ones that stop responding. A probe is a no-op input followed by a
// buffer-change check: a live worker produces output, a wedged one leaves
// the buffer frozen even though the session still exists.
package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cohort/internal/backend"
	"cohort/internal/event"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/session"
)

const (
	DefaultInterval         = 30 * time.Second
	DefaultSettleDelay      = 2 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultFailureThreshold = 3
)

// Invalidator fails in-flight captures for an agent before its session is
// replaced. The task router implements it.
type Invalidator interface {
	Invalidate(agentID string)
}

type MonitorOptions struct {
	Sessions    *session.Manager
	Backend     backend.Backend
	Invalidator Invalidator
	Logger      *logging.Logger
	Metrics     *metrics.Registry
	Bus         *event.Bus[event.Event]

	Interval         time.Duration
	SettleDelay      time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
}

// AgentHealth is one agent's view in the health snapshot.
type AgentHealth struct {
	AgentID             string         `json:"agent_id"`
	SessionID           string         `json:"session_id,omitempty"`
	Status              session.Status `json:"status"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastProbeAt         time.Time      `json:"last_probe_at,omitzero"`
	LastRecoveryAt      time.Time      `json:"last_recovery_at,omitzero"`
}

type Monitor struct {
	sessions    *session.Manager
	backend     backend.Backend
	invalidator Invalidator
	logger      *logging.Logger
	metrics     *metrics.Registry
	bus         *event.Bus[event.Event]

	interval     time.Duration
	settleDelay  time.Duration
	probeTimeout time.Duration
	threshold    int

	mu         sync.Mutex
	failures   map[string]int
	lastProbe  map[string]time.Time
	recoveries map[string]time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewMonitor(options MonitorOptions) *Monitor {
	if options.Interval <= 0 {
		options.Interval = DefaultInterval
	}
	if options.SettleDelay <= 0 {
		options.SettleDelay = DefaultSettleDelay
	}
	if options.ProbeTimeout <= 0 {
		options.ProbeTimeout = DefaultProbeTimeout
	}
	if options.FailureThreshold <= 0 {
		options.FailureThreshold = DefaultFailureThreshold
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	return &Monitor{
		sessions:    options.Sessions,
		backend:     options.Backend,
		invalidator: options.Invalidator,
		logger:      options.Logger,
		metrics:     options.Metrics,
		bus:         options.Bus,
		interval:     options.Interval,
		settleDelay:  options.SettleDelay,
		probeTimeout: options.ProbeTimeout,
		threshold:    options.FailureThreshold,
		failures:    make(map[string]int),
		lastProbe:   make(map[string]time.Time),
		recoveries:  make(map[string]time.Time),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Run probes on the configured interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// Snapshot reports every agent the session manager knows about, probed or
// not.
func (m *Monitor) Snapshot() map[string]AgentHealth {
	if m == nil || m.sessions == nil {
		return nil
	}
	handles := m.sessions.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AgentHealth, len(handles))
	for agentID, handle := range handles {
		out[agentID] = AgentHealth{
			AgentID:             agentID,
			SessionID:           handle.SessionID,
			Status:              handle.Status,
			ConsecutiveFailures: m.failures[agentID],
			LastProbeAt:         m.lastProbe[agentID],
			LastRecoveryAt:      m.recoveries[agentID],
		}
	}
	return out
}

// probeAll walks every live session. Offline agents are skipped; an agent
// nobody dispatched to yet has nothing to recover.
func (m *Monitor) probeAll(ctx context.Context) {
	for agentID, handle := range m.sessions.Snapshot() {
		if handle.Status == session.StatusOffline || handle.Status == session.StatusStarting {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, agentID, handle)
	}
}

func (m *Monitor) probe(ctx context.Context, agentID string, handle session.AgentSession) {
	probedAt := m.now().UTC()
	m.mu.Lock()
	m.lastProbe[agentID] = probedAt
	m.mu.Unlock()
	m.sessions.RecordHealthCheck(agentID, probedAt)

	probeCtx, cancelProbe := context.WithTimeout(ctx, m.probeTimeout)
	responded := m.responded(probeCtx, handle.SessionID)
	cancelProbe()

	if responded {
		m.mu.Lock()
		m.failures[agentID] = 0
		m.mu.Unlock()
		return
	}

	m.metrics.IncProbeFailure()
	m.mu.Lock()
	m.failures[agentID]++
	count := m.failures[agentID]
	m.mu.Unlock()
	m.logWarn("health probe failed", agentID, map[string]string{
		"consecutive": strconv.Itoa(count),
	})
	if count < m.threshold {
		return
	}

	m.recover(ctx, agentID, handle)
}

// responded runs one probe cycle: the session must exist, accept a no-op
// input, and show new buffer content after the settle delay.
func (m *Monitor) responded(ctx context.Context, sessionID string) bool {
	exists, err := m.backend.Exists(ctx, sessionID)
	if err != nil || !exists {
		return false
	}
	before, err := m.backend.CaptureOutput(ctx, sessionID)
	if err != nil {
		return false
	}
	if err := m.backend.SendInput(ctx, sessionID, ""); err != nil {
		return false
	}
	if err := m.sleep(ctx, m.settleDelay); err != nil {
		return false
	}
	after, err := m.backend.CaptureOutput(ctx, sessionID)
	if err != nil {
		return false
	}
	return after != before
}

func (m *Monitor) recover(ctx context.Context, agentID string, handle session.AgentSession) {
	previous := handle.Status
	m.sessions.MarkUnresponsive(agentID)
	m.publish(event.NewHealthEvent(agentID, string(previous), string(session.StatusUnresponsive)))

	if m.invalidator != nil {
		m.invalidator.Invalidate(agentID)
	}

	m.metrics.IncRestart()
	restarted, err := m.sessions.RestartSession(ctx, agentID)
	if err != nil {
		m.logWarn("session recovery failed", agentID, map[string]string{
			"error": err.Error(),
		})
		// Failures stay counted so the next tick tries again.
		return
	}

	recoveredAt := m.now().UTC()
	m.mu.Lock()
	m.failures[agentID] = 0
	m.recoveries[agentID] = recoveredAt
	m.mu.Unlock()
	m.publish(event.NewHealthEvent(agentID, string(session.StatusUnresponsive), string(restarted.Status)))
	m.logInfo("session recovered", agentID, map[string]string{
		"session_id": restarted.SessionID,
	})
}

func (m *Monitor) publish(payload event.Event) {
	if m.bus != nil {
		m.bus.Publish(payload)
	}
}

func (m *Monitor) logInfo(message, agentID string, fields map[string]string) {
	if m.logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]string{}
	}
	fields["agent"] = agentID
	m.logger.Info(message, fields)
}

func (m *Monitor) logWarn(message, agentID string, fields map[string]string) {
	if m.logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]string{}
	}
	fields["agent"] = agentID
	m.logger.Warn(message, fields)
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
