// Package authz implements the two-party authorization gate. An agent
// proposes an action, a human (or a delegated approver) decides it, and the
// decision is immutable once recorded. Every transition lands in an
// append-only log so an audit can replay exactly who approved what.
package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateDenied     State = "denied"
	// StateModificationRequested settles the record; the requester resubmits
	// the revised task as a fresh request with a new id.
	StateModificationRequested State = "modification_requested"
)

type Decision string

const (
	DecisionAuthorize           Decision = "authorize"
	DecisionDeny                Decision = "deny"
	DecisionRequestModification Decision = "request_modification"
)

var (
	// ErrNotFound reports an unknown authorization id.
	ErrNotFound = errors.New("authorization not found")
	// ErrInvalidDecision reports an unrecognized decision value.
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrReasonRequired reports a deny or modification request without the
	// explanation the audit trail demands.
	ErrReasonRequired = errors.New("reason required")
)

// Request is one pending or settled authorization. It names both parties:
// the requester proposing the action and the target agent the action would
// be dispatched to. Fields past SubmittedAt are set only once, by the first
// decision.
type Request struct {
	ID            string    `json:"id"`
	Requester     string    `json:"requester"`
	TargetAgentID string    `json:"target_agent_id"`
	ProjectID     string    `json:"project_id,omitempty"`
	Action        string    `json:"action"`
	Context       string    `json:"context,omitempty"`
	State         State     `json:"state"`
	SubmittedAt   time.Time `json:"submitted_at"`
	DecidedAt     time.Time `json:"decided_at,omitzero"`
	DecidedBy     string    `json:"decided_by,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// LogEntry is one line of the append-only audit trail.
type LogEntry struct {
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id"`
	Requester string    `json:"requester"`
	Target    string    `json:"target"`
	State     State     `json:"state"`
	Actor     string    `json:"actor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// NewRequestID builds a collision-resistant id that still sorts roughly by
// submission time and names its requester.
func NewRequestID(requester string, at time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", requester, at.UnixNano(), short)
}

// ParseDecision normalizes operator input into a Decision.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "authorize", "authorized", "approve", "approved", "yes":
		return DecisionAuthorize, nil
	case "deny", "denied", "reject", "rejected", "no":
		return DecisionDeny, nil
	case "request_modification", "request-modification", "modify", "modification":
		return DecisionRequestModification, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

func (d Decision) valid() bool {
	switch d {
	case DecisionAuthorize, DecisionDeny, DecisionRequestModification:
		return true
	}
	return false
}

// requiresReason reports whether the audit record demands an explanation.
func (d Decision) requiresReason() bool {
	return d == DecisionDeny || d == DecisionRequestModification
}

func (d Decision) state() State {
	switch d {
	case DecisionAuthorize:
		return StateAuthorized
	case DecisionRequestModification:
		return StateModificationRequested
	default:
		return StateDenied
	}
}
