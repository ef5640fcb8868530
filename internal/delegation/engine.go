// Package delegation is the API-facing front of the delegation chain. It
// resolves the manager set for a project, starts the workflow, and routes
// authorization decisions into both the store and the waiting workflow.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cohort/internal/authz"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/roster"
	"cohort/internal/temporal"
	"cohort/internal/temporal/workflows"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrProjectNotFound reports a project id with no chain behind it.
var ErrProjectNotFound = errors.New("project not found")

type EngineOptions struct {
	Client  temporal.WorkflowClient
	Roster  *roster.Roster
	Authz   *authz.Store
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

type Engine struct {
	client  temporal.WorkflowClient
	roster  *roster.Roster
	authz   *authz.Store
	logger  *logging.Logger
	metrics *metrics.Registry

	now func() time.Time
}

func NewEngine(options EngineOptions) *Engine {
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	return &Engine{
		client:  options.Client,
		roster:  options.Roster,
		authz:   options.Authz,
		logger:  options.Logger,
		metrics: options.Metrics,
		now:     time.Now,
	}
}

// ProjectHandle is what a submitter gets back: enough to poll status and to
// correlate authorizations.
type ProjectHandle struct {
	ProjectID   string    `json:"project_id"`
	WorkflowID  string    `json:"workflow_id"`
	RunID       string    `json:"run_id,omitempty"`
	ProjectType string    `json:"project_type"`
	Requester   string    `json:"requester"`
	ManagerIDs  []string  `json:"manager_ids"`
	Stage       string    `json:"stage"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// WorkflowIDForProject maps a project id to its chain's workflow id. The
// mapping is deterministic so status and signals never need a lookup table.
func WorkflowIDForProject(projectID string) string {
	return "delegation-" + projectID
}

// SubmitProject resolves the manager set and starts the chain. An unknown
// project type still yields a project id; its chain records a halt at the
// delegating stage instead of guessing a manager set, so the configuration
// error stays inspectable through GetProjectStatus.
func (e *Engine) SubmitProject(ctx context.Context, description, projectType, requester string) (ProjectHandle, error) {
	if e == nil || e.client == nil {
		return ProjectHandle{}, errors.New("delegation engine unavailable")
	}
	trimmedDescription := strings.TrimSpace(description)
	if trimmedDescription == "" {
		return ProjectHandle{}, errors.New("project description is required")
	}
	managerIDs, projectTypeKnown := e.roster.ManagersFor(projectType)
	if !projectTypeKnown && e.logger != nil {
		e.logger.Warn("unknown project type, chain will halt", map[string]string{
			"project_type": projectType,
		})
	}

	projectID := newProjectID()
	workflowID := WorkflowIDForProject(projectID)
	submittedAt := e.now().UTC()

	request := workflows.DelegationWorkflowRequest{
		ProjectID:        projectID,
		Description:      trimmedDescription,
		ProjectType:      projectType,
		Requester:        requester,
		ValidatorID:      e.roster.ValidatorID(),
		CoordinatorID:    e.roster.CoordinatorID(),
		ManagerIDs:       managerIDs,
		ProjectTypeKnown: projectTypeKnown,
		SubmittedAt:      submittedAt,
	}
	startOptions := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                workflows.DelegationTaskQueueName,
		WorkflowExecutionTimeout: workflows.DefaultWorkflowExecutionTimeout,
		WorkflowRunTimeout:       workflows.DefaultWorkflowRunTimeout,
		WorkflowTaskTimeout:      workflows.DefaultWorkflowTaskTimeout,
	}

	run, startError := e.client.ExecuteWorkflow(ctx, startOptions, workflows.DelegationWorkflow, request)
	if startError != nil {
		return ProjectHandle{}, fmt.Errorf("start delegation workflow: %w", startError)
	}
	e.metrics.IncChainStarted()

	handle := ProjectHandle{
		ProjectID:   projectID,
		WorkflowID:  workflowID,
		ProjectType: projectType,
		Requester:   requester,
		ManagerIDs:  managerIDs,
		Stage:       workflows.StageSubmitted,
		SubmittedAt: submittedAt,
	}
	if run != nil {
		handle.RunID = run.GetRunID()
	}
	if e.logger != nil {
		e.logger.Info("delegation chain started", map[string]string{
			"project":      projectID,
			"project_type": projectType,
			"requester":    requester,
		})
	}
	return handle, nil
}

// GetProjectStatus queries the chain's live state.
func (e *Engine) GetProjectStatus(ctx context.Context, projectID string) (workflows.DelegationWorkflowState, error) {
	if e == nil || e.client == nil {
		return workflows.DelegationWorkflowState{}, errors.New("delegation engine unavailable")
	}
	encoded, queryError := e.client.QueryWorkflow(ctx, WorkflowIDForProject(projectID), "", workflows.StatusQueryName)
	if queryError != nil {
		var notFound *serviceerror.NotFound
		if errors.As(queryError, &notFound) {
			return workflows.DelegationWorkflowState{}, fmt.Errorf("%w: %q", ErrProjectNotFound, projectID)
		}
		return workflows.DelegationWorkflowState{}, fmt.Errorf("query delegation status: %w", queryError)
	}
	var state workflows.DelegationWorkflowState
	if decodeError := encoded.Get(&state); decodeError != nil {
		return workflows.DelegationWorkflowState{}, fmt.Errorf("decode delegation status: %w", decodeError)
	}
	return state, nil
}

// DecideAuthorization settles the request in the store and forwards the
// decision to the chain waiting on it. Re-deciding with the same outcome
// re-sends the signal, which covers a crash between store write and signal;
// the workflow side tolerates duplicates.
func (e *Engine) DecideAuthorization(ctx context.Context, requestID string, decision authz.Decision, actor, reason string) (authz.Request, error) {
	if e == nil || e.authz == nil {
		return authz.Request{}, errors.New("delegation engine unavailable")
	}
	settled, _, decideError := e.authz.Decide(requestID, decision, actor, reason)
	if decideError != nil {
		return settled, decideError
	}
	if settled.ProjectID == "" || e.client == nil {
		return settled, nil
	}

	signal := workflows.DecisionSignal{
		RequestID: settled.ID,
		Decision:  string(settled.State),
		Actor:     settled.DecidedBy,
		Reason:    settled.Reason,
	}
	signalError := e.client.SignalWorkflow(ctx, WorkflowIDForProject(settled.ProjectID), "", workflows.DecisionSignalName, signal)
	if signalError != nil {
		var notFound *serviceerror.NotFound
		if errors.As(signalError, &notFound) {
			// The chain already finished; the store keeps the audit record.
			return settled, nil
		}
		return settled, fmt.Errorf("signal delegation chain: %w", signalError)
	}
	return settled, nil
}

// ListPendingAuthorizations returns undecided requests in submission order.
func (e *Engine) ListPendingAuthorizations() []authz.Request {
	if e == nil || e.authz == nil {
		return nil
	}
	return e.authz.ListPending()
}

func newProjectID() string {
	return "proj-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
