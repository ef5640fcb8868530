package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cohort/internal/backend"
	"cohort/internal/event"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/roster"
)

const (
	DefaultCreateTimeout   = 15 * time.Second
	DefaultInitSettleDelay = 2 * time.Second
	DefaultRetryBackoff    = 500 * time.Millisecond
)

type ManagerOptions struct {
	Backend       backend.Backend
	Roster        *roster.Roster
	Logger        *logging.Logger
	Metrics       *metrics.Registry
	Bus           *event.Bus[event.Event]
	SessionPrefix string

	CreateTimeout   time.Duration
	InitSettleDelay time.Duration
	RetryBackoff    time.Duration
}

// Manager enforces the one-live-session-per-agent invariant and drives the
// create → initialize → active sequence.
type Manager struct {
	backend       backend.Backend
	roster        *roster.Roster
	logger        *logging.Logger
	metrics       *metrics.Registry
	bus           *event.Bus[event.Event]
	sessionPrefix string

	createTimeout   time.Duration
	initSettleDelay time.Duration
	retryBackoff    time.Duration

	mu       sync.Mutex
	sessions map[string]*AgentSession
	// agentLocks serializes lifecycle operations per agent while leaving
	// different agents fully concurrent.
	agentLocks map[string]*sync.Mutex

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewManager(options ManagerOptions) *Manager {
	if options.CreateTimeout <= 0 {
		options.CreateTimeout = DefaultCreateTimeout
	}
	if options.InitSettleDelay <= 0 {
		options.InitSettleDelay = DefaultInitSettleDelay
	}
	if options.RetryBackoff <= 0 {
		options.RetryBackoff = DefaultRetryBackoff
	}
	if options.SessionPrefix == "" {
		options.SessionPrefix = "cohort"
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	return &Manager{
		backend:         options.Backend,
		roster:          options.Roster,
		logger:          options.Logger,
		metrics:         options.Metrics,
		bus:             options.Bus,
		sessionPrefix:   options.SessionPrefix,
		createTimeout:   options.CreateTimeout,
		initSettleDelay: options.InitSettleDelay,
		retryBackoff:    options.RetryBackoff,
		sessions:        make(map[string]*AgentSession),
		agentLocks:      make(map[string]*sync.Mutex),
		now:             time.Now,
		sleep:           sleepContext,
	}
}

// SessionID returns the backend session name for an agent.
func (m *Manager) SessionID(agentID string) string {
	return backend.SanitizeSessionID(m.sessionPrefix + "-" + agentID)
}

// EnsureSession returns a live session for the agent, creating and
// initializing one when none exists or the backend lost it. Calling it on an
// already-active session is a cheap no-op.
func (m *Manager) EnsureSession(ctx context.Context, agentID string) (AgentSession, error) {
	if m == nil || m.backend == nil {
		return AgentSession{}, fmt.Errorf("session manager unavailable")
	}
	identity, ok := m.roster.Get(agentID)
	if !ok {
		return AgentSession{}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}

	agentLock := m.lockFor(identity.ID)
	agentLock.Lock()
	defer agentLock.Unlock()

	sessionID := m.SessionID(identity.ID)
	current := m.get(identity.ID)
	if current.Status == StatusActive {
		exists, err := m.backend.Exists(ctx, sessionID)
		if err == nil && exists {
			return current, nil
		}
		// Backend lost the session out from under us; fall through and
		// recreate.
		m.logWarn("session missing from backend", identity.ID, map[string]string{
			"session_id": sessionID,
		})
	}

	return m.createAndInit(ctx, identity, sessionID)
}

// RestartSession destroys and recreates the agent's session unconditionally.
func (m *Manager) RestartSession(ctx context.Context, agentID string) (AgentSession, error) {
	if m == nil || m.backend == nil {
		return AgentSession{}, fmt.Errorf("session manager unavailable")
	}
	identity, ok := m.roster.Get(agentID)
	if !ok {
		return AgentSession{}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}

	agentLock := m.lockFor(identity.ID)
	agentLock.Lock()
	defer agentLock.Unlock()

	sessionID := m.SessionID(identity.ID)
	_ = m.backend.Destroy(ctx, sessionID)
	m.setStatus(identity.ID, sessionID, StatusOffline)

	restarted, err := m.createAndInit(ctx, identity, sessionID)
	if err != nil {
		return restarted, err
	}
	m.metrics.IncSessionRestarted()
	m.publish(event.NewSessionEvent(event.TypeSessionRestarted, identity.ID, sessionID))
	return restarted, nil
}

// StopSession destroys the agent's session and marks it offline.
func (m *Manager) StopSession(ctx context.Context, agentID string) error {
	if m == nil || m.backend == nil {
		return fmt.Errorf("session manager unavailable")
	}
	identity, ok := m.roster.Get(agentID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}

	agentLock := m.lockFor(identity.ID)
	agentLock.Lock()
	defer agentLock.Unlock()

	sessionID := m.SessionID(identity.ID)
	err := m.backend.Destroy(ctx, sessionID)
	m.setStatus(identity.ID, sessionID, StatusOffline)
	m.publish(event.NewSessionEvent(event.TypeSessionStopped, identity.ID, sessionID))
	return err
}

// StopAll stops every known agent's session. Errors are logged, not
// surfaced; shutdown keeps going.
func (m *Manager) StopAll(ctx context.Context) {
	if m == nil || m.roster == nil {
		return
	}
	for _, agentID := range m.roster.IDs() {
		if err := m.StopSession(ctx, agentID); err != nil {
			m.logWarn("stop session failed", agentID, map[string]string{
				"error": err.Error(),
			})
		}
	}
}

// Get returns a copy of the agent's session handle.
func (m *Manager) Get(agentID string) (AgentSession, bool) {
	if m == nil {
		return AgentSession{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[agentID]
	if !ok {
		return AgentSession{}, false
	}
	return *current, true
}

// Snapshot returns a copy of every session handle keyed by agent id.
func (m *Manager) Snapshot() map[string]AgentSession {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AgentSession, len(m.sessions))
	for agentID, current := range m.sessions {
		out[agentID] = *current
	}
	return out
}

// MarkUnresponsive flips the agent's status after repeated failed probes.
func (m *Manager) MarkUnresponsive(agentID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[agentID]; ok {
		current.Status = StatusUnresponsive
	}
}

// RecordHealthCheck stamps the last probe time for the agent.
func (m *Manager) RecordHealthCheck(agentID string, at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[agentID]; ok {
		current.LastHealthCheckAt = at
	}
}

func (m *Manager) createAndInit(ctx context.Context, identity roster.Identity, sessionID string) (AgentSession, error) {
	m.setStatus(identity.ID, sessionID, StatusStarting)

	createCtx, cancel := context.WithTimeout(ctx, m.createTimeout)
	defer cancel()

	if err := m.createWithRetry(createCtx, sessionID); err != nil {
		if createCtx.Err() != nil {
			// The bound expired mid-create; never leave the handle parked
			// in Starting.
			m.setStatus(identity.ID, sessionID, StatusUnresponsive)
		} else {
			m.setStatus(identity.ID, sessionID, StatusOffline)
		}
		return m.get(identity.ID), fmt.Errorf("%w: create %q: %v", ErrSessionUnavailable, identity.ID, err)
	}

	if err := m.initialize(createCtx, identity, sessionID); err != nil {
		_ = m.backend.Destroy(ctx, sessionID)
		if createCtx.Err() != nil {
			m.setStatus(identity.ID, sessionID, StatusUnresponsive)
		} else {
			m.setStatus(identity.ID, sessionID, StatusOffline)
		}
		return m.get(identity.ID), fmt.Errorf("%w: initialize %q: %v", ErrSessionUnavailable, identity.ID, err)
	}

	m.mu.Lock()
	current := m.sessions[identity.ID]
	current.Status = StatusActive
	current.LastInitializedAt = m.now().UTC()
	snapshot := *current
	m.mu.Unlock()

	m.metrics.IncSessionCreated()
	m.publish(event.NewSessionEvent(event.TypeSessionStarted, identity.ID, sessionID))
	m.logInfo("session active", identity.ID, map[string]string{
		"session_id": sessionID,
	})
	return snapshot, nil
}

func (m *Manager) createWithRetry(ctx context.Context, sessionID string) error {
	exists, err := m.backend.Exists(ctx, sessionID)
	if err == nil && exists {
		// A stale backend session without a live handle; replace it so the
		// init preamble lands in a fresh worker.
		_ = m.backend.Destroy(ctx, sessionID)
	}

	createErr := m.backend.Create(ctx, sessionID)
	if createErr == nil {
		return nil
	}
	if err := m.sleep(ctx, m.retryBackoff); err != nil {
		return createErr
	}
	return m.backend.Create(ctx, sessionID)
}

func (m *Manager) initialize(ctx context.Context, identity roster.Identity, sessionID string) error {
	preamble, err := identity.InitPreamble()
	if err != nil {
		return err
	}

	sendErr := m.backend.SendInput(ctx, sessionID, preamble)
	if sendErr != nil {
		if err := m.sleep(ctx, m.retryBackoff); err != nil {
			return sendErr
		}
		if sendErr = m.backend.SendInput(ctx, sessionID, preamble); sendErr != nil {
			return sendErr
		}
	}
	// Give the worker a moment to ingest its role before tasks arrive.
	return m.sleep(ctx, m.initSettleDelay)
}

func (m *Manager) setStatus(agentID, sessionID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[agentID]
	if !ok {
		current = &AgentSession{AgentID: agentID, SessionID: sessionID}
		m.sessions[agentID] = current
	}
	current.SessionID = sessionID
	current.Status = status
}

func (m *Manager) get(agentID string) AgentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[agentID]; ok {
		return *current
	}
	return AgentSession{AgentID: agentID, Status: StatusOffline}
}

func (m *Manager) lockFor(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.agentLocks[agentID] = lock
	}
	return lock
}

func (m *Manager) publish(payload event.Event) {
	if m.bus != nil {
		m.bus.Publish(payload)
	}
}

func (m *Manager) logInfo(message, agentID string, fields map[string]string) {
	if m.logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]string{}
	}
	fields["agent"] = agentID
	m.logger.Info(message, fields)
}

func (m *Manager) logWarn(message, agentID string, fields map[string]string) {
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
