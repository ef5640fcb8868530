package authz

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSubmitCreatesPendingRequest(t *testing.T) {
	store := NewStore(StoreOptions{})

	request, err := store.Submit("backend", "database", "proj-1", "create database schema", "needed for user table")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if request.State != StatePending {
		t.Fatalf("expected pending, got %s", request.State)
	}
	if request.Requester != "backend" || request.TargetAgentID != "database" {
		t.Fatalf("parties not recorded: %+v", request)
	}
	if !strings.HasPrefix(request.ID, "backend-") {
		t.Fatalf("id should name the requester: %q", request.ID)
	}
	if request.SubmittedAt.IsZero() {
		t.Fatal("missing submission timestamp")
	}
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	store := NewStore(StoreOptions{})
	if _, err := store.Submit("", "api-dev", "", "do a thing", ""); err == nil {
		t.Fatal("expected error for missing requester")
	}
	if _, err := store.Submit("backend", "", "", "do a thing", ""); err == nil {
		t.Fatal("expected error for missing target")
	}
	if _, err := store.Submit("backend", "api-dev", "", "", ""); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestDecideSettlesRequest(t *testing.T) {
	store := NewStore(StoreOptions{})
	request, _ := store.Submit("backend", "api-dev", "", "deploy to staging", "")

	decided, changed, err := store.Decide(request.ID, DecisionAuthorize, "operator", "looks safe")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !changed {
		t.Fatal("first decision must report a transition")
	}
	if decided.State != StateAuthorized || decided.DecidedBy != "operator" {
		t.Fatalf("unexpected decided request: %+v", decided)
	}
	if decided.DecidedAt.Before(decided.SubmittedAt) {
		t.Fatal("decided before submitted")
	}
}

func TestDecideIsFirstWriterWins(t *testing.T) {
	store := NewStore(StoreOptions{})
	request, _ := store.Submit("backend", "api-dev", "", "drop old table", "")

	if _, _, err := store.Decide(request.ID, DecisionDeny, "operator", "too risky"); err != nil {
		t.Fatalf("first decide: %v", err)
	}

	// Repeating the same decision is idempotent.
	repeated, changed, err := store.Decide(request.ID, DecisionDeny, "operator", "still risky")
	if err != nil {
		t.Fatalf("repeat decide: %v", err)
	}
	if changed {
		t.Fatal("repeat decision must not report a transition")
	}
	if repeated.Reason != "too risky" {
		t.Fatalf("settled reason was overwritten: %q", repeated.Reason)
	}

	// A conflicting decision is a no-op; the first decision holds.
	conflicting, changed, err := store.Decide(request.ID, DecisionAuthorize, "other", "")
	if err != nil {
		t.Fatalf("conflicting decide: %v", err)
	}
	if changed {
		t.Fatal("conflicting decision must not report a transition")
	}
	if conflicting.State != StateDenied || conflicting.DecidedBy != "operator" {
		t.Fatalf("settled record changed: %+v", conflicting)
	}
	current, _ := store.Get(request.ID)
	if current.State != StateDenied {
		t.Fatalf("settled state flipped to %s", current.State)
	}
}

func TestDecideRequiresReasonForDenial(t *testing.T) {
	store := NewStore(StoreOptions{})
	request, _ := store.Submit("backend", "api-dev", "", "drop old table", "")

	if _, _, err := store.Decide(request.ID, DecisionDeny, "operator", "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if _, _, err := store.Decide(request.ID, DecisionRequestModification, "operator", ""); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	current, _ := store.Get(request.ID)
	if current.State != StatePending {
		t.Fatalf("request settled without a reason: %s", current.State)
	}
}

func TestDecideModificationRequested(t *testing.T) {
	store := NewStore(StoreOptions{})
	request, _ := store.Submit("backend", "api-dev", "proj-1", "widen the scope", "")

	decided, changed, err := store.Decide(request.ID, DecisionRequestModification, "operator", "split into two tasks")
	if err != nil || !changed {
		t.Fatalf("decide: changed=%v err=%v", changed, err)
	}
	if decided.State != StateModificationRequested {
		t.Fatalf("unexpected state %s", decided.State)
	}
	// The record is settled; the requester resubmits under a new id.
	if len(store.ListPending()) != 0 {
		t.Fatal("modification request must settle the record")
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	store := NewStore(StoreOptions{})
	if _, _, err := store.Decide("missing", DecisionAuthorize, "operator", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPendingKeepsSubmissionOrder(t *testing.T) {
	store := NewStore(StoreOptions{})
	first, _ := store.Submit("backend", "api-dev", "", "first action", "")
	second, _ := store.Submit("database", "schema-dev", "", "second action", "")
	third, _ := store.Submit("frontend", "ui-dev", "", "third action", "")

	store.Decide(second.ID, DecisionAuthorize, "operator", "")

	pending := store.ListPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != third.ID {
		t.Fatalf("pending out of order: %s, %s", pending[0].ID, pending[1].ID)
	}
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	store := NewStore(StoreOptions{})
	request, _ := store.Submit("backend", "api-dev", "", "rotate credentials", "")
	store.Decide(request.ID, DecisionAuthorize, "operator", "scheduled")

	trail := store.AuditLog()
	if len(trail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(trail))
	}
	if trail[0].State != StatePending || trail[1].State != StateAuthorized {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if trail[0].Target != "api-dev" || trail[1].Target != "api-dev" {
		t.Fatalf("audit entries must name the target: %+v", trail)
	}

	// Mutating the returned copy must not touch the store's trail.
	trail[0].State = StateDenied
	if store.AuditLog()[0].State != StatePending {
		t.Fatal("audit log copy leaked internal state")
	}
}

func TestParseDecision(t *testing.T) {
	cases := map[string]Decision{
		"authorize": DecisionAuthorize,
		"Approved":  DecisionAuthorize,
		"yes":       DecisionAuthorize,
		"deny":      DecisionDeny,
		"REJECT":    DecisionDeny,
		"modify":    DecisionRequestModification,
	}
	for raw, want := range cases {
		got, err := ParseDecision(raw)
		if err != nil || got != want {
			t.Fatalf("ParseDecision(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseDecision("maybe"); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestRequestIDFormat(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewRequestID("backend", at)
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "backend" {
		t.Fatalf("unexpected id shape %q", id)
	}
	if len(parts[2]) != 8 {
		t.Fatalf("expected 8-char suffix, got %q", parts[2])
	}
}
