package workflows

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

type recordedDispatch struct {
	AgentID     string
	Instruction string
}

type fakeActivities struct {
	dispatches      []recordedDispatch
	dispatchResults map[string]StageDispatchResult
	resolves        []string
	specialistSets  map[string][]string
	authorizations  []SubmitAuthorizationRequest
	notices         []NotifyRequest
}

func (f *fakeActivities) register(workflowEnvironment *testsuite.TestWorkflowEnvironment) {
	workflowEnvironment.RegisterActivityWithOptions(
		func(ctx context.Context, request StageDispatchRequest) (StageDispatchResult, error) {
			f.dispatches = append(f.dispatches, recordedDispatch{
				AgentID:     request.AgentID,
				Instruction: request.Instruction,
			})
			if result, ok := f.dispatchResults[request.AgentID]; ok {
				return result, nil
			}
			return StageDispatchResult{
				AgentID: request.AgentID,
				State:   "completed",
				Output:  "ack from " + request.AgentID,
			}, nil
		},
		activity.RegisterOptions{Name: DispatchStageActivityName},
	)
	workflowEnvironment.RegisterActivityWithOptions(
		func(ctx context.Context, request SpecialistResolveRequest) (SpecialistResolveResult, error) {
			f.resolves = append(f.resolves, request.ManagerID)
			result := SpecialistResolveResult{ManagerID: request.ManagerID}
			if members, ok := f.specialistSets[request.ManagerID]; ok {
				result.SpecialistIDs = members
			} else {
				// A manager without a team executes its own subtasks.
				result.SpecialistIDs = []string{request.ManagerID}
			}
			return result, nil
		},
		activity.RegisterOptions{Name: ResolveSpecialistsActivityName},
	)
	workflowEnvironment.RegisterActivityWithOptions(
		func(ctx context.Context, request SubmitAuthorizationRequest) (SubmitAuthorizationResult, error) {
			f.authorizations = append(f.authorizations, request)
			return SubmitAuthorizationResult{RequestID: fmt.Sprintf("auth-%d", len(f.authorizations))}, nil
		},
		activity.RegisterOptions{Name: SubmitAuthorizationActivityName},
	)
	workflowEnvironment.RegisterActivityWithOptions(
		func(ctx context.Context, request NotifyRequest) error {
			f.notices = append(f.notices, request)
			return nil
		},
		activity.RegisterOptions{Name: NotifyRequesterActivityName},
	)
}

func chainRequest() DelegationWorkflowRequest {
	return DelegationWorkflowRequest{
		ProjectID:        "proj-1",
		Description:      "build the billing service",
		ProjectType:      "web-service",
		Requester:        "operator",
		ValidatorID:      "validator",
		CoordinatorID:    "coordinator",
		ManagerIDs:       []string{"backend", "database"},
		ProjectTypeKnown: true,
	}
}

func authorizeAt(workflowEnvironment *testsuite.TestWorkflowEnvironment, requestID string, delay time.Duration) {
	workflowEnvironment.RegisterDelayedCallback(func() {
		workflowEnvironment.SignalWorkflow(DecisionSignalName, DecisionSignal{
			RequestID: requestID,
			Decision:  "authorized",
			Actor:     "operator",
		})
	}, delay)
}

func TestDelegationWorkflowCompletesWhenAuthorized(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{
		specialistSets: map[string][]string{
			"backend": {"api-dev"},
		},
	}
	fakes.register(workflowEnvironment)

	var stateAtGate DelegationWorkflowState
	var gateQueryError error
	workflowEnvironment.RegisterDelayedCallback(func() {
		queryResult, queryError := workflowEnvironment.QueryWorkflow(StatusQueryName)
		if queryError != nil {
			gateQueryError = queryError
			return
		}
		gateQueryError = queryResult.Get(&stateAtGate)
	}, time.Minute)

	authorizeAt(workflowEnvironment, "auth-1", 2*time.Minute)
	authorizeAt(workflowEnvironment, "auth-2", 3*time.Minute)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, chainRequest())

	if !workflowEnvironment.IsWorkflowCompleted() {
		testingContext.Fatal("workflow did not complete")
	}
	if workflowEnvironment.GetWorkflowError() != nil {
		testingContext.Fatalf("workflow error: %v", workflowEnvironment.GetWorkflowError())
	}
	if gateQueryError != nil {
		testingContext.Fatalf("gate query failed: %v", gateQueryError)
	}
	if stateAtGate.Stage != StageDelegating {
		testingContext.Fatalf("expected delegating at the gate, got %s", stateAtGate.Stage)
	}
	if len(stateAtGate.PendingAuthorizations) != 2 {
		testingContext.Fatalf("one pending authorization per pair, got %v", stateAtGate.PendingAuthorizations)
	}

	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageCompleted {
		testingContext.Fatalf("expected completed, got %s", workflowResult.FinalStage)
	}

	// Stage order, then the authorized specialists: backend's specialist and
	// the teamless database manager itself.
	expectedOrder := []string{"validator", "coordinator", "backend", "database", "api-dev", "database"}
	if len(fakes.dispatches) != len(expectedOrder) {
		testingContext.Fatalf("expected %d dispatches, got %d: %#v", len(expectedOrder), len(fakes.dispatches), fakes.dispatches)
	}
	for index, agentID := range expectedOrder {
		if fakes.dispatches[index].AgentID != agentID {
			testingContext.Fatalf("dispatch %d: expected %s, got %s", index, agentID, fakes.dispatches[index].AgentID)
		}
	}
	// The coordinator plans from the validator's assessment, not just the
	// raw description.
	if !strings.Contains(fakes.dispatches[1].Instruction, "ack from validator") {
		testingContext.Fatalf("coordinator instruction missing validator assessment:\n%s", fakes.dispatches[1].Instruction)
	}
	if !strings.Contains(fakes.dispatches[1].Instruction, "build the billing service") {
		testingContext.Fatalf("coordinator instruction missing project description:\n%s", fakes.dispatches[1].Instruction)
	}

	if len(fakes.resolves) != 2 {
		testingContext.Fatalf("expected specialist resolution per manager, got %v", fakes.resolves)
	}
	if len(fakes.authorizations) != 2 {
		testingContext.Fatalf("expected one authorization per pair, got %#v", fakes.authorizations)
	}
	if fakes.authorizations[0].Requester != "backend" || fakes.authorizations[0].Target != "api-dev" {
		testingContext.Fatalf("first pair must be backend to api-dev: %#v", fakes.authorizations[0])
	}
	if fakes.authorizations[1].Requester != "database" || fakes.authorizations[1].Target != "database" {
		testingContext.Fatalf("teamless manager must request for itself: %#v", fakes.authorizations[1])
	}
	if len(fakes.notices) != 1 || fakes.notices[0].Requester != "operator" {
		testingContext.Fatalf("expected one completion notice to the requester, got %#v", fakes.notices)
	}
	if !strings.Contains(fakes.notices[0].Message, "delegated to all teams") {
		testingContext.Fatalf("unexpected completion message %q", fakes.notices[0].Message)
	}
	if fakes.notices[0].Outcome != OutcomeCompleted {
		testingContext.Fatalf("completion notice must carry the outcome, got %q", fakes.notices[0].Outcome)
	}
}

func TestDelegationWorkflowHaltsOnDenial(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{}
	fakes.register(workflowEnvironment)

	workflowEnvironment.RegisterDelayedCallback(func() {
		workflowEnvironment.SignalWorkflow(DecisionSignalName, DecisionSignal{
			RequestID: "auth-1",
			Decision:  "denied",
			Actor:     "operator",
			Reason:    "scope too large",
		})
	}, time.Minute)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, chainRequest())

	if !workflowEnvironment.IsWorkflowCompleted() {
		testingContext.Fatal("workflow did not complete")
	}
	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageHalted {
		testingContext.Fatalf("expected halted, got %s", workflowResult.FinalStage)
	}
	if !strings.Contains(workflowResult.HaltReason, "denied") || !strings.Contains(workflowResult.HaltReason, "scope too large") {
		testingContext.Fatalf("unexpected halt reason %q", workflowResult.HaltReason)
	}

	// The chain stops at the gate: both managers broke the project down but
	// no specialist task went out.
	expectedOrder := []string{"validator", "coordinator", "backend", "database"}
	if len(fakes.dispatches) != len(expectedOrder) {
		testingContext.Fatalf("unexpected dispatches after denial: %#v", fakes.dispatches)
	}
	// The denial goes back to the requesting manager before the halt notice
	// reaches the project requester.
	if len(fakes.notices) != 2 {
		testingContext.Fatalf("expected a manager relay and a halt notice, got %#v", fakes.notices)
	}
	if fakes.notices[0].Requester != "backend" || !strings.Contains(fakes.notices[0].Message, "denied") {
		testingContext.Fatalf("denial not relayed to the requesting manager: %#v", fakes.notices[0])
	}
	if fakes.notices[0].Outcome != "" {
		testingContext.Fatalf("relay notice must not carry a chain outcome: %#v", fakes.notices[0])
	}
	if fakes.notices[1].Requester != "operator" || !strings.Contains(fakes.notices[1].Message, "halted") {
		testingContext.Fatalf("requester not told about the halt: %#v", fakes.notices[1])
	}
}

func TestDelegationWorkflowHaltsOnModificationRequest(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{}
	fakes.register(workflowEnvironment)

	workflowEnvironment.RegisterDelayedCallback(func() {
		workflowEnvironment.SignalWorkflow(DecisionSignalName, DecisionSignal{
			RequestID: "auth-1",
			Decision:  "modification_requested",
			Actor:     "operator",
			Reason:    "split into two projects",
		})
	}, time.Minute)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, chainRequest())

	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageHalted {
		testingContext.Fatalf("expected halted, got %s", workflowResult.FinalStage)
	}
	if !strings.Contains(workflowResult.HaltReason, "modification requested") || !strings.Contains(workflowResult.HaltReason, "split into two projects") {
		testingContext.Fatalf("unexpected halt reason %q", workflowResult.HaltReason)
	}
	// The requester resubmits a revised project; this chain dispatches no
	// specialist work.
	if len(fakes.dispatches) != 4 {
		testingContext.Fatalf("unexpected dispatches after a modification request: %#v", fakes.dispatches)
	}
}

func TestDelegationWorkflowHaltsOnUnknownProjectType(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{}
	fakes.register(workflowEnvironment)

	request := chainRequest()
	request.ProjectType = "mainframe"
	request.ProjectTypeKnown = false
	request.ManagerIDs = nil

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, request)

	if !workflowEnvironment.IsWorkflowCompleted() {
		testingContext.Fatal("workflow did not complete")
	}
	if workflowEnvironment.GetWorkflowError() != nil {
		testingContext.Fatalf("workflow error: %v", workflowEnvironment.GetWorkflowError())
	}
	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageHalted {
		testingContext.Fatalf("expected halted, got %s", workflowResult.FinalStage)
	}
	if !strings.Contains(workflowResult.HaltReason, "unknown project type") || !strings.Contains(workflowResult.HaltReason, "mainframe") {
		testingContext.Fatalf("unexpected halt reason %q", workflowResult.HaltReason)
	}
	if len(fakes.dispatches) != 0 {
		testingContext.Fatalf("nothing may be dispatched for an unknown project type: %#v", fakes.dispatches)
	}
	if len(fakes.authorizations) != 0 {
		testingContext.Fatal("no authorization may be submitted for an unknown project type")
	}
	if len(fakes.notices) != 1 || fakes.notices[0].Outcome != OutcomeHalted {
		testingContext.Fatalf("requester not told about the halt: %#v", fakes.notices)
	}
}

func TestDelegationWorkflowHaltsWhenValidatorUnavailable(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{
		dispatchResults: map[string]StageDispatchResult{
			"validator": {AgentID: "validator", State: "failed", Err: "session unavailable"},
		},
	}
	fakes.register(workflowEnvironment)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, chainRequest())

	if !workflowEnvironment.IsWorkflowCompleted() {
		testingContext.Fatal("workflow did not complete")
	}
	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageHalted {
		testingContext.Fatalf("expected halted, got %s", workflowResult.FinalStage)
	}
	if !strings.Contains(workflowResult.HaltReason, "validator") {
		testingContext.Fatalf("unexpected halt reason %q", workflowResult.HaltReason)
	}
	if len(fakes.authorizations) != 0 {
		testingContext.Fatal("no authorization should be submitted when validation never ran")
	}
}

func TestDelegationWorkflowSkipsUnreachableManager(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{
		dispatchResults: map[string]StageDispatchResult{
			"database": {AgentID: "database", State: "failed", Err: "session unavailable"},
		},
		specialistSets: map[string][]string{
			"backend": {"api-dev"},
		},
	}
	fakes.register(workflowEnvironment)

	authorizeAt(workflowEnvironment, "auth-1", time.Minute)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, chainRequest())

	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageCompleted {
		testingContext.Fatalf("one dead manager must not halt the chain, got %s", workflowResult.FinalStage)
	}
	if len(fakes.resolves) != 1 || fakes.resolves[0] != "backend" {
		testingContext.Fatalf("expected specialist resolution only for the live manager, got %v", fakes.resolves)
	}
	if len(fakes.authorizations) != 1 || fakes.authorizations[0].Requester != "backend" {
		testingContext.Fatalf("unexpected authorization submissions: %#v", fakes.authorizations)
	}
	if len(fakes.notices) != 1 || !strings.Contains(fakes.notices[0].Message, "unreachable") {
		testingContext.Fatalf("requester not told about the gap: %#v", fakes.notices)
	}
}

func TestDelegationWorkflowIgnoresForeignAndBlankDecisions(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{}
	fakes.register(workflowEnvironment)

	request := chainRequest()
	request.ManagerIDs = []string{"backend"}

	workflowEnvironment.RegisterDelayedCallback(func() {
		workflowEnvironment.SignalWorkflow(DecisionSignalName, DecisionSignal{
			RequestID: "auth-other",
			Decision:  "denied",
			Actor:     "operator",
		})
	}, time.Minute)
	workflowEnvironment.RegisterDelayedCallback(func() {
		workflowEnvironment.SignalWorkflow(DecisionSignalName, DecisionSignal{
			Decision: "denied",
			Actor:    "operator",
		})
	}, 90*time.Second)
	authorizeAt(workflowEnvironment, "auth-1", 2*time.Minute)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, request)

	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageCompleted {
		testingContext.Fatalf("foreign and blank decisions must be ignored, got %s", workflowResult.FinalStage)
	}
}

func TestDelegationWorkflowHaltsOnAuthorizationTimeout(testingContext *testing.T) {
	workflowTestSuite := &testsuite.WorkflowTestSuite{}
	workflowEnvironment := workflowTestSuite.NewTestWorkflowEnvironment()
	workflowEnvironment.RegisterWorkflow(DelegationWorkflow)
	fakes := &fakeActivities{}
	fakes.register(workflowEnvironment)

	workflowEnvironment.ExecuteWorkflow(DelegationWorkflow, chainRequest())

	if !workflowEnvironment.IsWorkflowCompleted() {
		testingContext.Fatal("workflow did not complete")
	}
	var workflowResult DelegationWorkflowResult
	if resultError := workflowEnvironment.GetWorkflowResult(&workflowResult); resultError != nil {
		testingContext.Fatalf("result error: %v", resultError)
	}
	if workflowResult.FinalStage != StageHalted {
		testingContext.Fatalf("expected halted, got %s", workflowResult.FinalStage)
	}
	if !strings.Contains(workflowResult.HaltReason, "timed out") {
		testingContext.Fatalf("unexpected halt reason %q", workflowResult.HaltReason)
	}
}
