// Package session owns the runtime handle for every agent's interactive
// session: creation, role initialization, restart, and teardown. There is at
// most one live session per agent; every other component goes through the
// Manager instead of touching the backend directly.
package session

import (
	"errors"
	"time"
)

type Status string

const (
	StatusOffline      Status = "offline"
	StatusStarting     Status = "starting"
	StatusActive       Status = "active"
	StatusUnresponsive Status = "unresponsive"
)

// ErrSessionUnavailable reports that the backend could not create or
// initialize a session after the retry.
var ErrSessionUnavailable = errors.New("session unavailable")

// ErrUnknownAgent reports an agent id absent from the roster.
var ErrUnknownAgent = errors.New("unknown agent")

// AgentSession is the mutable runtime handle for one agent. Values returned
// by the Manager are copies; the Manager owns the canonical state.
type AgentSession struct {
	AgentID           string    `json:"agent_id"`
	SessionID         string    `json:"session_id"`
	Status            Status    `json:"status"`
	LastInitializedAt time.Time `json:"last_initialized_at,omitzero"`
	LastHealthCheckAt time.Time `json:"last_health_check_at,omitzero"`
}
