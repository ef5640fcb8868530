// Package workflows holds cohort's Temporal workflow definitions. The
// delegation chain lives here: validation, coordination, and the manager
// fan-out with its per-specialist authorization gate all run as one durable
// workflow so a process restart never loses a chain mid-flight.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	StageSubmitted    = "submitted"
	StageValidating   = "validating"
	StageCoordinating = "coordinating"
	StageDelegating   = "delegating"
	StageCompleted    = "completed"
	StageHalted       = "halted"

	DelegationTaskQueueName = "cohort-delegation"

	DispatchStageActivityName       = "DispatchStageActivity"
	SubmitAuthorizationActivityName = "SubmitAuthorizationActivity"
	ResolveSpecialistsActivityName  = "ResolveSpecialistsActivity"
	NotifyRequesterActivityName     = "NotifyRequesterActivity"

	DecisionSignalName = "delegation.decision"
	StatusQueryName    = "delegation.status"

	DefaultWorkflowExecutionTimeout = 72 * time.Hour
	DefaultWorkflowRunTimeout       = 72 * time.Hour
	DefaultWorkflowTaskTimeout      = 10 * time.Second

	DispatchActivityTimeout      = 2 * time.Minute
	DefaultActivityTimeout       = 10 * time.Second
	DefaultActivityRetryAttempts = 3

	// AuthorizationWaitTimeout bounds how long a chain sits at the human
	// gate before halting on its own.
	AuthorizationWaitTimeout = 48 * time.Hour

	OutcomeCompleted = "completed"
	OutcomeHalted    = "halted"
)

type DelegationWorkflowRequest struct {
	ProjectID     string
	Description   string
	ProjectType   string
	Requester     string
	ValidatorID   string
	CoordinatorID string
	ManagerIDs    []string
	// ProjectTypeKnown is false when the project-type table has no entry;
	// the chain then records a halt at delegating instead of guessing a
	// manager set.
	ProjectTypeKnown bool
	SubmittedAt      time.Time
}

type DelegationWorkflowResult struct {
	ProjectID   string
	FinalStage  string
	HaltReason  string
	CompletedAt time.Time
}

// DelegationWorkflowState is the queryable chain snapshot.
type DelegationWorkflowState struct {
	ProjectID             string
	ProjectType           string
	Requester             string
	Stage                 string
	StageHistory          []StageTransition
	ManagerIDs            []string
	PendingAuthorizations []string
	StageOutputs          map[string]string
	HaltReason            string
}

type StageTransition struct {
	Stage     string
	Timestamp time.Time
}

// DecisionSignal settles one of the chain's pending authorizations.
type DecisionSignal struct {
	RequestID string
	Decision  string
	Actor     string
	Reason    string
}

type StageDispatchRequest struct {
	AgentID     string
	ProjectID   string
	Instruction string
}

type StageDispatchResult struct {
	AgentID string
	State   string
	Output  string
	Err     string
}

type SubmitAuthorizationRequest struct {
	Requester string
	Target    string
	ProjectID string
	Action    string
	Context   string
}

type SubmitAuthorizationResult struct {
	RequestID string
}

type SpecialistResolveRequest struct {
	ManagerID string
}

type SpecialistResolveResult struct {
	ManagerID     string
	SpecialistIDs []string
}

type NotifyRequest struct {
	Requester string
	ProjectID string
	Message   string
	// Outcome marks the chain-terminal notices so the activity records the
	// completed/halted counters exactly once per run.
	Outcome string
}

// specialistAssignment is one manager to specialist pair awaiting its gate.
type specialistAssignment struct {
	ManagerID    string
	SpecialistID string
	RequestID    string
	Instruction  string
}

// DelegationWorkflow drives one project through the chain. Every stage is an
// activity against live sessions; the workflow itself only sequences them.
// During delegating each manager to specialist pair gets its own
// authorization request, and no specialist task is dispatched until that
// pair's request is authorized.
func DelegationWorkflow(workflowContext workflow.Context, request DelegationWorkflowRequest) (result DelegationWorkflowResult, err error) {
	state := DelegationWorkflowState{
		ProjectID:    request.ProjectID,
		ProjectType:  request.ProjectType,
		Requester:    request.Requester,
		Stage:        StageSubmitted,
		ManagerIDs:   request.ManagerIDs,
		StageOutputs: make(map[string]string),
	}
	enterStage := func(stage string) {
		state.Stage = stage
		state.StageHistory = append(state.StageHistory, StageTransition{
			Stage:     stage,
			Timestamp: workflow.Now(workflowContext),
		})
	}
	enterStage(StageSubmitted)

	if queryError := workflow.SetQueryHandler(workflowContext, StatusQueryName, func() (DelegationWorkflowState, error) {
		return state, nil
	}); queryError != nil {
		err = queryError
		return DelegationWorkflowResult{}, queryError
	}

	logger := workflow.GetLogger(workflowContext)
	dispatchContext := workflow.WithActivityOptions(workflowContext, workflow.ActivityOptions{
		StartToCloseTimeout: DispatchActivityTimeout,
		RetryPolicy:         delegationRetryPolicy(),
	})
	quickContext := workflow.WithActivityOptions(workflowContext, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultActivityTimeout,
		RetryPolicy:         delegationRetryPolicy(),
	})

	halt := func(reason string) (DelegationWorkflowResult, error) {
		state.HaltReason = reason
		enterStage(StageHalted)
		notifyAgent(quickContext, logger, request.Requester, request.ProjectID,
			fmt.Sprintf("project %s halted: %s", request.ProjectID, reason), OutcomeHalted)
		return DelegationWorkflowResult{
			ProjectID:   request.ProjectID,
			FinalStage:  StageHalted,
			HaltReason:  reason,
			CompletedAt: workflow.Now(workflowContext),
		}, nil
	}

	// An unrecognized project type is a configuration error; the chain halts
	// at delegating without dispatching anything.
	if !request.ProjectTypeKnown {
		enterStage(StageDelegating)
		return halt(fmt.Sprintf("unknown project type %q", request.ProjectType))
	}

	// Validation stage.
	enterStage(StageValidating)
	var validation StageDispatchResult
	if activityErr := workflow.ExecuteActivity(dispatchContext, DispatchStageActivityName, StageDispatchRequest{
		AgentID:     request.ValidatorID,
		ProjectID:   request.ProjectID,
		Instruction: fmt.Sprintf("Validate the following project request and flag any blockers.\n\n%s", request.Description),
	}).Get(dispatchContext, &validation); activityErr != nil {
		err = activityErr
		return DelegationWorkflowResult{}, activityErr
	}
	state.StageOutputs[request.ValidatorID] = validation.Output
	if validation.State == "failed" {
		return halt(fmt.Sprintf("validator %s unavailable: %s", request.ValidatorID, validation.Err))
	}

	// Coordination stage: the coordinator sees the validator's assessment
	// alongside the original description.
	enterStage(StageCoordinating)
	var coordination StageDispatchResult
	if activityErr := workflow.ExecuteActivity(dispatchContext, DispatchStageActivityName, StageDispatchRequest{
		AgentID:   request.CoordinatorID,
		ProjectID: request.ProjectID,
		Instruction: fmt.Sprintf("Plan the execution order across teams for this project.\n\nValidator assessment:\n%s\n\nProject description:\n%s",
			validation.Output, request.Description),
	}).Get(dispatchContext, &coordination); activityErr != nil {
		err = activityErr
		return DelegationWorkflowResult{}, activityErr
	}
	state.StageOutputs[request.CoordinatorID] = coordination.Output
	if coordination.State == "failed" {
		return halt(fmt.Sprintf("coordinator %s unavailable: %s", request.CoordinatorID, coordination.Err))
	}

	// Delegation stage: each manager receives the project and breaks it
	// down, then every manager to specialist pair gets its own
	// authorization request. A single dead manager does not halt the chain;
	// the gap is reported to the requester instead.
	enterStage(StageDelegating)
	var unreachable []string
	var assignments []specialistAssignment
	for _, managerID := range request.ManagerIDs {
		var managerResult StageDispatchResult
		if activityErr := workflow.ExecuteActivity(dispatchContext, DispatchStageActivityName, StageDispatchRequest{
			AgentID:     managerID,
			ProjectID:   request.ProjectID,
			Instruction: fmt.Sprintf("Break this project into tasks for your team.\n\n%s", request.Description),
		}).Get(dispatchContext, &managerResult); activityErr != nil {
			err = activityErr
			return DelegationWorkflowResult{}, activityErr
		}
		state.StageOutputs[managerID] = managerResult.Output
		if managerResult.State == "failed" {
			logger.Warn("manager unreachable, skipping its specialists", "manager", managerID, "error", managerResult.Err)
			unreachable = append(unreachable, managerID)
			continue
		}

		var resolved SpecialistResolveResult
		if activityErr := workflow.ExecuteActivity(quickContext, ResolveSpecialistsActivityName, SpecialistResolveRequest{
			ManagerID: managerID,
		}).Get(quickContext, &resolved); activityErr != nil {
			err = activityErr
			return DelegationWorkflowResult{}, activityErr
		}

		for _, specialistID := range resolved.SpecialistIDs {
			var submitted SubmitAuthorizationResult
			if activityErr := workflow.ExecuteActivity(quickContext, SubmitAuthorizationActivityName, SubmitAuthorizationRequest{
				Requester: managerID,
				Target:    specialistID,
				ProjectID: request.ProjectID,
				Action:    fmt.Sprintf("dispatch subtask to %s for project %s", specialistID, request.ProjectID),
				Context:   managerResult.Output,
			}).Get(quickContext, &submitted); activityErr != nil {
				err = activityErr
				return DelegationWorkflowResult{}, activityErr
			}
			assignments = append(assignments, specialistAssignment{
				ManagerID:    managerID,
				SpecialistID: specialistID,
				RequestID:    submitted.RequestID,
				Instruction:  fmt.Sprintf("Your manager %s delegated the following work:\n\n%s", managerID, managerResult.Output),
			})
			state.PendingAuthorizations = append(state.PendingAuthorizations, submitted.RequestID)
		}
	}

	// Authorization gate: every pair holds until its own request is
	// authorized. Any denial or modification request halts the whole chain
	// and the refusing decision is relayed to the requesting manager.
	if len(assignments) > 0 {
		byRequestID := make(map[string]specialistAssignment, len(assignments))
		for _, assignment := range assignments {
			byRequestID[assignment.RequestID] = assignment
		}
		refusal, decided := awaitDecisions(workflowContext, byRequestID, logger)
		if !decided {
			return halt("authorization wait timed out")
		}
		if refusal != nil {
			assignment := byRequestID[refusal.RequestID]
			notifyAgent(quickContext, logger, assignment.ManagerID, request.ProjectID,
				fmt.Sprintf("authorization %s to delegate to %s was %s by %s: %s",
					refusal.RequestID, assignment.SpecialistID, refusal.Decision, refusal.Actor, refusal.Reason), "")
			if refusal.Decision == "modification_requested" {
				return halt(fmt.Sprintf("modification requested by %s for specialist %s: %s", refusal.Actor, assignment.SpecialistID, refusal.Reason))
			}
			return halt(fmt.Sprintf("authorization denied by %s for specialist %s: %s", refusal.Actor, assignment.SpecialistID, refusal.Reason))
		}
	}
	state.PendingAuthorizations = nil

	// Every pair is authorized; dispatch the specialist tasks. A specialist
	// that cannot be reached is reported, not fatal.
	var failedSpecialists []string
	for _, assignment := range assignments {
		var specialistResult StageDispatchResult
		if activityErr := workflow.ExecuteActivity(dispatchContext, DispatchStageActivityName, StageDispatchRequest{
			AgentID:     assignment.SpecialistID,
			ProjectID:   request.ProjectID,
			Instruction: assignment.Instruction,
		}).Get(dispatchContext, &specialistResult); activityErr != nil {
			err = activityErr
			return DelegationWorkflowResult{}, activityErr
		}
		state.StageOutputs[assignment.SpecialistID] = specialistResult.Output
		if specialistResult.State == "failed" {
			failedSpecialists = append(failedSpecialists, assignment.SpecialistID)
		}
	}

	completionMessage := fmt.Sprintf("project %s delegated to all teams", request.ProjectID)
	switch {
	case len(unreachable) > 0:
		completionMessage = fmt.Sprintf("project %s delegated with unreachable managers: %v", request.ProjectID, unreachable)
	case len(failedSpecialists) > 0:
		completionMessage = fmt.Sprintf("project %s delegated with unreachable specialists: %v", request.ProjectID, failedSpecialists)
	}
	notifyAgent(quickContext, logger, request.Requester, request.ProjectID, completionMessage, OutcomeCompleted)

	enterStage(StageCompleted)
	result = DelegationWorkflowResult{
		ProjectID:   request.ProjectID,
		FinalStage:  StageCompleted,
		CompletedAt: workflow.Now(workflowContext),
	}
	return result, nil
}

// awaitDecisions blocks on the decision signal until every pending request
// is settled or one is refused. Signals without a request id, for unknown
// ids, or repeating an already-seen id are dropped; the first decision per
// request holds. The second return is false when the gate times out.
func awaitDecisions(workflowContext workflow.Context, pending map[string]specialistAssignment, logger interface {
	Warn(string, ...interface{})
}) (*DecisionSignal, bool) {
	decisionChannel := workflow.GetSignalChannel(workflowContext, DecisionSignalName)
	deadlineContext, cancel := workflow.WithCancel(workflowContext)
	defer cancel()
	timerFuture := workflow.NewTimer(deadlineContext, AuthorizationWaitTimeout)

	decisions := make(map[string]DecisionSignal, len(pending))
	var refusal *DecisionSignal
	timedOut := false
	for len(decisions) < len(pending) && refusal == nil && !timedOut {
		selector := workflow.NewSelector(workflowContext)
		selector.AddReceive(decisionChannel, func(channel workflow.ReceiveChannel, more bool) {
			var signal DecisionSignal
			channel.Receive(workflowContext, &signal)
			if signal.RequestID == "" {
				logger.Warn("decision signal without a request id dropped")
				return
			}
			if _, ok := pending[signal.RequestID]; !ok {
				logger.Warn("decision signal for unknown request", "request_id", signal.RequestID)
				return
			}
			if _, ok := decisions[signal.RequestID]; ok {
				return
			}
			decisions[signal.RequestID] = signal
			if signal.Decision != "authorized" {
				refusal = &signal
			}
		})
		selector.AddFuture(timerFuture, func(workflow.Future) {
			timedOut = true
		})
		selector.Select(workflowContext)
	}
	if timedOut {
		return nil, false
	}
	return refusal, true
}

func notifyAgent(activityContext workflow.Context, logger interface {
	Warn(string, ...interface{})
}, agentID, projectID, message, outcome string) {
	if activityErr := workflow.ExecuteActivity(activityContext, NotifyRequesterActivityName, NotifyRequest{
		Requester: agentID,
		ProjectID: projectID,
		Message:   message,
		Outcome:   outcome,
	}).Get(activityContext, nil); activityErr != nil {
		logger.Warn("notify activity failed", "agent", agentID, "error", activityErr)
	}
}

func delegationRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    DefaultActivityRetryAttempts,
	}
}
