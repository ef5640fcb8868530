// Package temporalworker hosts the delegation task queue worker.
package temporalworker

import (
	"errors"
	"sync"
	"time"

	"cohort/internal/authz"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/roster"
	"cohort/internal/router"
	"cohort/internal/temporal"
	"cohort/internal/temporal/activities"
	"cohort/internal/temporal/workflows"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const defaultMaxConcurrentActivities = 10
const defaultMaxConcurrentWorkflowTasks = 10
const defaultWorkerStopTimeout = 5 * time.Second
const defaultDeadlockDetectionTimeout = 10 * time.Second

var workerMutex sync.Mutex
var activeWorker worker.Worker

type Dependencies struct {
	Client  temporal.WorkflowClient
	Router  *router.Router
	Roster  *roster.Roster
	Authz   *authz.Store
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

func StartWorker(deps Dependencies) error {
	if deps.Client == nil {
		return errors.New("temporal client is required")
	}
	if deps.Router == nil {
		return errors.New("task router is required")
	}
	if deps.Roster == nil {
		return errors.New("roster is required")
	}
	if deps.Authz == nil {
		return errors.New("authorization store is required")
	}

	sdkClient, ok := deps.Client.(client.Client)
	if !ok {
		return errors.New("temporal client does not support worker")
	}

	workerMutex.Lock()
	if activeWorker != nil {
		workerMutex.Unlock()
		return errors.New("temporal worker already running")
	}
	workerMutex.Unlock()

	activityHandlers := activities.NewDelegationActivities(deps.Router, deps.Roster, deps.Authz, deps.Logger)
	activityHandlers.Metrics = deps.Metrics

	workerOptions := worker.Options{
		MaxConcurrentActivityExecutionSize:     defaultMaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: defaultMaxConcurrentWorkflowTasks,
		MaxConcurrentActivityTaskPollers:       2,
		MaxConcurrentWorkflowTaskPollers:       2,
		WorkerStopTimeout:                      defaultWorkerStopTimeout,
		DeadlockDetectionTimeout:               defaultDeadlockDetectionTimeout,
	}

	workerInstance := worker.New(sdkClient, workflows.DelegationTaskQueueName, workerOptions)
	workerInstance.RegisterWorkflow(workflows.DelegationWorkflow)
	workerInstance.RegisterActivity(activityHandlers)

	startError := workerInstance.Start()
	if startError != nil {
		return startError
	}

	workerMutex.Lock()
	activeWorker = workerInstance
	workerMutex.Unlock()

	if deps.Logger != nil {
		deps.Logger.Info("temporal worker started", map[string]string{
			"task_queue": workflows.DelegationTaskQueueName,
		})
	}

	return nil
}

func StopWorker() {
	workerMutex.Lock()
	workerInstance := activeWorker
	activeWorker = nil
	workerMutex.Unlock()

	if workerInstance != nil {
		workerInstance.Stop()
	}
}
