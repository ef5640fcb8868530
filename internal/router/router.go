package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cohort/internal/backend"
	"cohort/internal/event"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/session"
)

const (
	DefaultCaptureDelay = 8 * time.Second
	DefaultQueueSize    = 32
)

// ErrRouterClosed reports a dispatch against a shut-down router.
var ErrRouterClosed = errors.New("router closed")

type Options struct {
	Sessions *session.Manager
	Backend  backend.Backend
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Bus      *event.Bus[event.Event]

	DefaultCaptureDelay time.Duration
	QueueSize           int
}

// Router serializes dispatches per agent while keeping different agents
// fully concurrent. Each agent gets one queue and one worker goroutine; a
// session never sees two overlapping write+capture cycles.
type Router struct {
	sessions *session.Manager
	backend  backend.Backend
	logger   *logging.Logger
	metrics  *metrics.Registry
	bus      *event.Bus[event.Event]

	captureDelayNanos atomic.Int64
	queueSize         int
	judge             CaptureJudge

	mu      sync.Mutex
	queues  map[string]chan *pendingTask
	gens    map[string]*atomic.Int64
	closed  bool
	workers sync.WaitGroup

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

type pendingTask struct {
	task   Task
	ctx    context.Context
	result chan CapturedResult
}

func New(options Options) *Router {
	if options.DefaultCaptureDelay <= 0 {
		options.DefaultCaptureDelay = DefaultCaptureDelay
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	r := &Router{
		sessions:  options.Sessions,
		backend:   options.Backend,
		logger:    options.Logger,
		metrics:   options.Metrics,
		bus:       options.Bus,
		queueSize: options.QueueSize,
		judge:     bufferChangedJudge{},
		queues:    make(map[string]chan *pendingTask),
		gens:      make(map[string]*atomic.Int64),
		sleep:     sleepContext,
		now:       time.Now,
	}
	r.captureDelayNanos.Store(int64(options.DefaultCaptureDelay))
	return r
}

// SetJudge replaces the completion-detection strategy.
func (r *Router) SetJudge(judge CaptureJudge) {
	if r == nil || judge == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judge = judge
}

// SetDefaultCaptureDelay adjusts the default wait; in-flight dispatches keep
// the delay they started with.
func (r *Router) SetDefaultCaptureDelay(delay time.Duration) {
	if r == nil || delay <= 0 {
		return
	}
	r.captureDelayNanos.Store(int64(delay))
}

func (r *Router) defaultCaptureDelay() time.Duration {
	return time.Duration(r.captureDelayNanos.Load())
}

// Dispatch queues the task on its agent's FIFO queue and blocks until the
// write+capture cycle resolves or ctx is canceled. A canceled task that has
// not been written yet is skipped; one already written resolves Failed with
// its capture abandoned (the transport cannot un-send).
func (r *Router) Dispatch(ctx context.Context, task Task) CapturedResult {
	if r == nil {
		return failedResult(task, "router unavailable")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	queue, err := r.queueFor(task.TargetAgentID)
	if err != nil {
		return failedResult(task, err.Error())
	}

	pending := &pendingTask{
		task:   task,
		ctx:    ctx,
		result: make(chan CapturedResult, 1),
	}

	select {
	case queue <- pending:
	case <-ctx.Done():
		return failedResult(task, "canceled before dispatch")
	}

	select {
	case result := <-pending.result:
		return result
	case <-ctx.Done():
		// The worker still resolves the task; the caller stopped waiting.
		return failedResult(task, "canceled while waiting for capture")
	}
}

// Invalidate bumps the agent's capture generation. An in-flight capture for
// that agent resolves Failed instead of reporting text from a replaced
// session. The health monitor calls this before restarting an agent.
func (r *Router) Invalidate(agentID string) {
	if r == nil {
		return
	}
	r.generation(agentID).Add(1)
}

// Close stops all workers. Queued tasks resolve Failed.
func (r *Router) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	queues := make([]chan *pendingTask, 0, len(r.queues))
	for _, queue := range r.queues {
		queues = append(queues, queue)
	}
	r.mu.Unlock()

	for _, queue := range queues {
		close(queue)
	}
	r.workers.Wait()
}

func (r *Router) queueFor(agentID string) (chan *pendingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	queue, ok := r.queues[agentID]
	if !ok {
		queue = make(chan *pendingTask, r.queueSize)
		r.queues[agentID] = queue
		r.workers.Add(1)
		go r.serve(agentID, queue)
	}
	return queue, nil
}

func (r *Router) generation(agentID string) *atomic.Int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[agentID]
	if !ok {
		gen = &atomic.Int64{}
		r.gens[agentID] = gen
	}
	return gen
}

// serve is the single consumer for one agent's queue; it enforces FIFO
// order and the no-overlap invariant.
func (r *Router) serve(agentID string, queue chan *pendingTask) {
	defer r.workers.Done()
	for pending := range queue {
		if err := pending.ctx.Err(); err != nil {
			pending.resolve(failedResult(pending.task, "canceled before dispatch"))
			continue
		}
		pending.resolve(r.execute(pending.ctx, pending.task))
	}
}

func (p *pendingTask) resolve(result CapturedResult) {
	select {
	case p.result <- result:
	default:
	}
}

func (r *Router) execute(ctx context.Context, task Task) CapturedResult {
	result := CapturedResult{
		TaskID:  task.ID,
		AgentID: task.TargetAgentID,
	}

	handle, err := r.sessions.EnsureSession(ctx, task.TargetAgentID)
	if err != nil {
		return r.finish(task, CapturedResult{
			TaskID:  task.ID,
			AgentID: task.TargetAgentID,
			State:   TaskFailed,
			Err:     err.Error(),
		})
	}
	sessionID := handle.SessionID
	gen := r.generation(task.TargetAgentID)
	startGen := gen.Load()

	before, err := r.backend.CaptureOutput(ctx, sessionID)
	if err != nil {
		return r.finish(task, CapturedResult{
			TaskID:  task.ID,
			AgentID: task.TargetAgentID,
			State:   TaskFailed,
			Err:     fmt.Sprintf("baseline capture: %v", err),
		})
	}

	if err := r.backend.SendInput(ctx, sessionID, FormatPayload(task)); err != nil {
		return r.finish(task, CapturedResult{
			TaskID:  task.ID,
			AgentID: task.TargetAgentID,
			State:   TaskFailed,
			Err:     fmt.Sprintf("send input: %v", err),
		})
	}
	result.DispatchedAt = r.now().UTC()
	r.publish(event.NewTaskEvent(event.TypeTaskDispatched, task.ID, task.TargetAgentID, string(TaskDispatched)))

	delay := task.CaptureDelay
	if delay <= 0 {
		delay = r.defaultCaptureDelay()
	}
	waitStart := r.now()
	if err := r.sleep(ctx, delay); err != nil {
		result.State = TaskFailed
		result.Err = "canceled during capture wait"
		return r.finish(task, result)
	}
	r.metrics.RecordCapture(task.TargetAgentID, r.now().Sub(waitStart))

	if gen.Load() != startGen {
		result.State = TaskFailed
		result.Err = "session restarted during capture wait"
		return r.finish(task, result)
	}

	after, err := r.backend.CaptureOutput(ctx, sessionID)
	result.CapturedAt = r.now().UTC()
	if err != nil {
		result.State = TaskFailed
		result.Err = fmt.Sprintf("capture output: %v", err)
		return r.finish(task, result)
	}

	if r.currentJudge().Responded(before, after) {
		result.State = TaskCompleted
		result.Output = after
	} else {
		// No buffer change inside the wait. The worker may still be
		// thinking; this is a soft failure by contract.
		result.State = TaskTimedOut
		result.Output = after
	}
	return r.finish(task, result)
}

func (r *Router) currentJudge() CaptureJudge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.judge
}

func (r *Router) finish(task Task, result CapturedResult) CapturedResult {
	r.metrics.IncDispatch(string(result.State))
	switch result.State {
	case TaskCompleted:
		r.publish(event.NewTaskEvent(event.TypeTaskCompleted, task.ID, task.TargetAgentID, string(result.State)))
	case TaskTimedOut:
		r.publish(event.NewTaskEvent(event.TypeTaskTimedOut, task.ID, task.TargetAgentID, string(result.State)))
	case TaskFailed:
		r.publish(event.NewTaskEvent(event.TypeTaskFailed, task.ID, task.TargetAgentID, string(result.State)))
	}
	if r.logger != nil {
		r.logger.Debug("dispatch finished", map[string]string{
			"task":  task.ID,
			"agent": task.TargetAgentID,
			"state": string(result.State),
		})
	}
	return result
}

func (r *Router) publish(payload event.Event) {
	if r.bus != nil {
		r.bus.Publish(payload)
	}
}

func failedResult(task Task, reason string) CapturedResult {
	return CapturedResult{
		TaskID:  task.ID,
		AgentID: task.TargetAgentID,
		State:   TaskFailed,
		Err:     reason,
	}
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
