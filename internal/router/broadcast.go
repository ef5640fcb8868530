package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Broadcast dispatches the same payload to every listed agent concurrently
// and returns a result per agent, keyed by agent id. An unreachable agent
// gets a Failed entry; the broadcast never short-circuits on individual
// failures, so the map always covers the full agent list.
func (r *Router) Broadcast(ctx context.Context, agentIDs []string, payload string, captureDelay time.Duration) map[string]CapturedResult {
	results := make(map[string]CapturedResult, len(agentIDs))
	if r == nil || len(agentIDs) == 0 {
		return results
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for _, agentID := range agentIDs {
		agentID := agentID
		group.Go(func() error {
			task := NewTask(agentID, payload)
			task.CaptureDelay = captureDelay
			result := r.Dispatch(groupCtx, task)
			mu.Lock()
			results[agentID] = result
			mu.Unlock()
			// Per-agent failures are recorded in the map, never returned, so
			// one dead agent cannot cancel its siblings.
			return nil
		})
	}
	_ = group.Wait()

	r.metrics.IncBroadcast()
	return results
}
