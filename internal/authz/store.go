package authz

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"cohort/internal/event"
	"cohort/internal/logging"
	"cohort/internal/metrics"
)

type StoreOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Bus     *event.Bus[event.Event]
}

// Store holds every authorization in memory plus the append-only audit log.
// Requests are never deleted; a settled request stays queryable for the life
// of the process.
type Store struct {
	logger  *logging.Logger
	metrics *metrics.Registry
	bus     *event.Bus[event.Event]

	mu       sync.Mutex
	requests map[string]*Request
	order    []string
	audit    []LogEntry

	now func() time.Time
}

func NewStore(options StoreOptions) *Store {
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	return &Store{
		logger:   options.Logger,
		metrics:  options.Metrics,
		bus:      options.Bus,
		requests: make(map[string]*Request),
		now:      time.Now,
	}
}

// Submit records a new pending authorization naming both parties and
// returns it.
func (s *Store) Submit(requester, target, projectID, action, requestContext string) (Request, error) {
	if requester == "" {
		return Request{}, fmt.Errorf("requester required")
	}
	if target == "" {
		return Request{}, fmt.Errorf("target agent required")
	}
	if action == "" {
		return Request{}, fmt.Errorf("action required")
	}

	submittedAt := s.now().UTC()
	request := &Request{
		ID:            NewRequestID(requester, submittedAt),
		Requester:     requester,
		TargetAgentID: target,
		ProjectID:     projectID,
		Action:        action,
		Context:       requestContext,
		State:         StatePending,
		SubmittedAt:   submittedAt,
	}

	s.mu.Lock()
	s.requests[request.ID] = request
	s.order = append(s.order, request.ID)
	s.appendAuditLocked(LogEntry{
		At:        submittedAt,
		RequestID: request.ID,
		Requester: requester,
		Target:    target,
		State:     StatePending,
	})
	snapshot := *request
	s.mu.Unlock()

	s.metrics.IncAuthSubmitted()
	s.publish(event.NewAuthorizationEvent(event.TypeAuthorizationSubmitted, request.ID, requester, target, ""))
	if s.logger != nil {
		s.logger.Info("authorization submitted", map[string]string{
			"request":   request.ID,
			"requester": requester,
			"target":    target,
		})
	}
	return snapshot, nil
}

// Decide settles a pending request. The first decision wins: deciding an
// already-settled request is a no-op returning the existing record with
// changed=false, whatever the second decision says. The settled state never
// flips.
func (s *Store) Decide(requestID string, decision Decision, actor, reason string) (Request, bool, error) {
	if !decision.valid() {
		return Request{}, false, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if decision.requiresReason() && strings.TrimSpace(reason) == "" {
		return Request{}, false, fmt.Errorf("%w for decision %q", ErrReasonRequired, decision)
	}

	s.mu.Lock()
	request, ok := s.requests[requestID]
	if !ok {
		s.mu.Unlock()
		return Request{}, false, fmt.Errorf("%w: %q", ErrNotFound, requestID)
	}

	if request.State != StatePending {
		snapshot := *request
		s.mu.Unlock()
		return snapshot, false, nil
	}

	decidedAt := s.now().UTC()
	request.State = decision.state()
	request.DecidedAt = decidedAt
	request.DecidedBy = actor
	request.Reason = reason
	s.appendAuditLocked(LogEntry{
		At:        decidedAt,
		RequestID: request.ID,
		Requester: request.Requester,
		Target:    request.TargetAgentID,
		State:     request.State,
		Actor:     actor,
		Reason:    reason,
	})
	snapshot := *request
	s.mu.Unlock()

	s.metrics.IncAuthDecided(string(snapshot.State))
	s.publish(event.NewAuthorizationEvent(event.TypeAuthorizationDecided, snapshot.ID, snapshot.Requester, snapshot.TargetAgentID, string(snapshot.State)))
	if s.logger != nil {
		s.logger.Info("authorization decided", map[string]string{
			"request":  snapshot.ID,
			"decision": string(snapshot.State),
			"actor":    actor,
		})
	}
	return snapshot, true, nil
}

// Get returns a copy of the request.
func (s *Store) Get(requestID string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return Request{}, false
	}
	return *request, true
}

// ListPending returns undecided requests in submission order.
func (s *Store) ListPending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]Request, 0)
	for _, requestID := range s.order {
		if request := s.requests[requestID]; request.State == StatePending {
			pending = append(pending, *request)
		}
	}
	return pending
}

// List returns every request in submission order, settled ones included.
func (s *Store) List() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]Request, 0, len(s.order))
	for _, requestID := range s.order {
		all = append(all, *s.requests[requestID])
	}
	return all
}

// AuditLog returns a copy of the append-only trail in record order.
func (s *Store) AuditLog() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := make([]LogEntry, len(s.audit))
	copy(trail, s.audit)
	return trail
}

func (s *Store) appendAuditLocked(entry LogEntry) {
	s.audit = append(s.audit, entry)
}

func (s *Store) publish(payload event.Event) {
	if s.bus != nil {
		s.bus.Publish(payload)
	}
}
