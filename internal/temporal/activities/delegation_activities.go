// Package activities implements the delegation workflow's side effects
// against live sessions. Activities translate router outcomes into plain
// results instead of activity errors so the workflow, not the retry policy,
// decides what a failed dispatch means for the chain.
package activities

import (
	"context"
	"errors"
	"strings"

	"cohort/internal/authz"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/roster"
	"cohort/internal/router"
	"cohort/internal/temporal/workflows"
)

const (
	DispatchStageActivityName       = "DispatchStageActivity"
	SubmitAuthorizationActivityName = "SubmitAuthorizationActivity"
	ResolveSpecialistsActivityName  = "ResolveSpecialistsActivity"
	NotifyRequesterActivityName     = "NotifyRequesterActivity"
)

type DelegationActivities struct {
	Router  *router.Router
	Roster  *roster.Roster
	Authz   *authz.Store
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

func NewDelegationActivities(taskRouter *router.Router, agentRoster *roster.Roster, authorizations *authz.Store, logger *logging.Logger) *DelegationActivities {
	return &DelegationActivities{
		Router: taskRouter,
		Roster: agentRoster,
		Authz:  authorizations,
		Logger: logger,
	}
}

// DispatchStageActivity sends one stage instruction to one agent and captures
// the reply. Dispatch failures come back in the result, never as an activity
// error, so Temporal does not retry into a dead session.
func (activities *DelegationActivities) DispatchStageActivity(activityContext context.Context, request workflows.StageDispatchRequest) (workflows.StageDispatchResult, error) {
	if activityContext != nil {
		if activityError := activityContext.Err(); activityError != nil {
			return workflows.StageDispatchResult{}, activityError
		}
	}
	taskRouter, routerError := activities.ensureRouter()
	if routerError != nil {
		return workflows.StageDispatchResult{}, routerError
	}
	trimmedAgent := strings.TrimSpace(request.AgentID)
	if trimmedAgent == "" {
		return workflows.StageDispatchResult{}, errors.New("agent id is required")
	}

	task := router.NewTask(trimmedAgent, request.Instruction)
	captured := taskRouter.Dispatch(activityContext, task)
	activities.logInfo("stage dispatched", map[string]string{
		"project": request.ProjectID,
		"agent":   trimmedAgent,
		"state":   string(captured.State),
	})
	return workflows.StageDispatchResult{
		AgentID: trimmedAgent,
		State:   string(captured.State),
		Output:  captured.Output,
		Err:     captured.Err,
	}, nil
}

// SubmitAuthorizationActivity records one pending manager to specialist
// authorization.
func (activities *DelegationActivities) SubmitAuthorizationActivity(activityContext context.Context, request workflows.SubmitAuthorizationRequest) (workflows.SubmitAuthorizationResult, error) {
	if activityContext != nil {
		if activityError := activityContext.Err(); activityError != nil {
			return workflows.SubmitAuthorizationResult{}, activityError
		}
	}
	if activities == nil || activities.Authz == nil {
		return workflows.SubmitAuthorizationResult{}, errors.New("authorization store unavailable")
	}
	submitted, submitError := activities.Authz.Submit(request.Requester, request.Target, request.ProjectID, request.Action, request.Context)
	if submitError != nil {
		return workflows.SubmitAuthorizationResult{}, submitError
	}
	return workflows.SubmitAuthorizationResult{RequestID: submitted.ID}, nil
}

// ResolveSpecialistsActivity names the specialists a manager delegates to.
// A manager without a team executes its own subtasks, so the manager itself
// comes back as the only specialist.
func (activities *DelegationActivities) ResolveSpecialistsActivity(activityContext context.Context, request workflows.SpecialistResolveRequest) (workflows.SpecialistResolveResult, error) {
	if activityContext != nil {
		if activityError := activityContext.Err(); activityError != nil {
			return workflows.SpecialistResolveResult{}, activityError
		}
	}
	if activities == nil || activities.Roster == nil {
		return workflows.SpecialistResolveResult{}, errors.New("roster unavailable")
	}
	trimmedManager := strings.TrimSpace(request.ManagerID)
	if trimmedManager == "" {
		return workflows.SpecialistResolveResult{}, errors.New("manager id is required")
	}

	result := workflows.SpecialistResolveResult{ManagerID: trimmedManager}
	members := activities.Roster.Specialists(trimmedManager)
	if len(members) == 0 {
		result.SpecialistIDs = []string{trimmedManager}
		return result, nil
	}
	for _, member := range members {
		result.SpecialistIDs = append(result.SpecialistIDs, member.ID)
	}
	return result, nil
}

// NotifyRequesterActivity delivers a chain update to an agent's session and
// records the chain outcome counters for terminal notices. Recipients
// outside the roster (human operators) only get a log line.
func (activities *DelegationActivities) NotifyRequesterActivity(activityContext context.Context, request workflows.NotifyRequest) error {
	if activityContext != nil {
		if activityError := activityContext.Err(); activityError != nil {
			return activityError
		}
	}
	switch request.Outcome {
	case workflows.OutcomeCompleted:
		activities.registry().IncChainCompleted()
	case workflows.OutcomeHalted:
		activities.registry().IncChainHalted()
	}

	trimmedRequester := strings.TrimSpace(request.Requester)
	if trimmedRequester == "" {
		return nil
	}
	if activities == nil || activities.Roster == nil {
		return errors.New("roster unavailable")
	}
	if _, ok := activities.Roster.Get(trimmedRequester); !ok {
		activities.logInfo("recipient outside roster, notice logged only", map[string]string{
			"project":   request.ProjectID,
			"recipient": trimmedRequester,
			"message":   request.Message,
		})
		return nil
	}
	taskRouter, routerError := activities.ensureRouter()
	if routerError != nil {
		return routerError
	}

	captured := taskRouter.Dispatch(activityContext, router.NewTask(trimmedRequester, request.Message))
	if captured.State == router.TaskFailed {
		activities.logWarn("notice undeliverable", map[string]string{
			"project":   request.ProjectID,
			"recipient": trimmedRequester,
			"error":     captured.Err,
		})
	}
	// Notices are best effort; an unreachable recipient never fails the chain.
	return nil
}

func (activities *DelegationActivities) ensureRouter() (*router.Router, error) {
	if activities == nil || activities.Router == nil {
		return nil, errors.New("task router unavailable")
	}
	return activities.Router, nil
}

func (activities *DelegationActivities) registry() *metrics.Registry {
	if activities == nil || activities.Metrics == nil {
		return metrics.Default
	}
	return activities.Metrics
}

func (activities *DelegationActivities) logInfo(message string, fields map[string]string) {
	if activities == nil || activities.Logger == nil {
		return
	}
	activities.Logger.Info(message, fields)
}

func (activities *DelegationActivities) logWarn(message string, fields map[string]string) {
	if activities == nil || activities.Logger == nil {
		return
	}
	activities.Logger.Warn(message, fields)
}
