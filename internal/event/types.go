package event

import "time"

// Event is a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	TypeSessionStarted   = "session_started"
	TypeSessionRestarted = "session_restarted"
	TypeSessionStopped   = "session_stopped"

	TypeTaskDispatched = "task_dispatched"
	TypeTaskCompleted  = "task_completed"
	TypeTaskTimedOut   = "task_timed_out"
	TypeTaskFailed     = "task_failed"

	TypeAuthorizationSubmitted = "authorization_submitted"
	TypeAuthorizationDecided   = "authorization_decided"

	TypeHealthChanged  = "health_changed"
	TypeConfigReloaded = "config_reloaded"
)

// SessionEvent captures session lifecycle changes.
type SessionEvent struct {
	EventType  string
	AgentID    string
	SessionID  string
	Reason     string
	OccurredAt time.Time
}

func NewSessionEvent(eventType, agentID, sessionID string) SessionEvent {
	return SessionEvent{
		EventType:  eventType,
		AgentID:    agentID,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
	}
}

func (e SessionEvent) Type() string         { return e.EventType }
func (e SessionEvent) Timestamp() time.Time { return e.OccurredAt }

// TaskEvent captures task routing outcomes.
type TaskEvent struct {
	EventType  string
	TaskID     string
	AgentID    string
	State      string
	OccurredAt time.Time
}

func NewTaskEvent(eventType, taskID, agentID, state string) TaskEvent {
	return TaskEvent{
		EventType:  eventType,
		TaskID:     taskID,
		AgentID:    agentID,
		State:      state,
		OccurredAt: time.Now().UTC(),
	}
}

func (e TaskEvent) Type() string         { return e.EventType }
func (e TaskEvent) Timestamp() time.Time { return e.OccurredAt }

// AuthorizationEvent captures authorization submissions and decisions.
type AuthorizationEvent struct {
	EventType  string
	RequestID  string
	Requester  string
	Target     string
	Decision   string
	OccurredAt time.Time
}

func NewAuthorizationEvent(eventType, requestID, requester, target, decision string) AuthorizationEvent {
	return AuthorizationEvent{
		EventType:  eventType,
		RequestID:  requestID,
		Requester:  requester,
		Target:     target,
		Decision:   decision,
		OccurredAt: time.Now().UTC(),
	}
}

func (e AuthorizationEvent) Type() string         { return e.EventType }
func (e AuthorizationEvent) Timestamp() time.Time { return e.OccurredAt }

// HealthEvent captures a health status transition for one agent.
type HealthEvent struct {
	EventType  string
	AgentID    string
	Previous   string
	Current    string
	OccurredAt time.Time
}

func NewHealthEvent(agentID, previous, current string) HealthEvent {
	return HealthEvent{
		EventType:  TypeHealthChanged,
		AgentID:    agentID,
		Previous:   previous,
		Current:    current,
		OccurredAt: time.Now().UTC(),
	}
}

func (e HealthEvent) Type() string         { return e.EventType }
func (e HealthEvent) Timestamp() time.Time { return e.OccurredAt }

// ConfigEvent captures a settings reload.
type ConfigEvent struct {
	EventType  string
	Path       string
	OccurredAt time.Time
}

func NewConfigEvent(path string) ConfigEvent {
	return ConfigEvent{
		EventType:  TypeConfigReloaded,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ConfigEvent) Type() string         { return e.EventType }
func (e ConfigEvent) Timestamp() time.Time { return e.OccurredAt }
