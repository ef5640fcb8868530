// Package router turns free-text instructions into session writes and
// delay-bounded output captures. The transport has no completion signal, so
// a "result" here is always a best-effort snapshot: Completed means the
// buffer changed after the capture wait, TimedOut means it did not, and
// neither says anything about semantic completeness.
package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskState string

const (
	TaskQueued          TaskState = "queued"
	TaskDispatched      TaskState = "dispatched"
	TaskAwaitingCapture TaskState = "awaiting_capture"
	TaskCompleted       TaskState = "completed"
	TaskTimedOut        TaskState = "timed_out"
	TaskFailed          TaskState = "failed"
)

// Task is one unit of work for one agent. A zero CaptureDelay uses the
// router default.
type Task struct {
	ID            string        `json:"id"`
	TargetAgentID string        `json:"target_agent_id"`
	Payload       string        `json:"payload"`
	Priority      int           `json:"priority"`
	CaptureDelay  time.Duration `json:"capture_delay"`
	CreatedAt     time.Time     `json:"created_at"`
}

func NewTask(targetAgentID, payload string) Task {
	return Task{
		ID:            uuid.NewString(),
		TargetAgentID: targetAgentID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// CapturedResult is the outcome of one dispatch.
type CapturedResult struct {
	TaskID       string    `json:"task_id"`
	AgentID      string    `json:"agent_id"`
	State        TaskState `json:"state"`
	Output       string    `json:"output,omitempty"`
	Err          string    `json:"error,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at,omitzero"`
	CapturedAt   time.Time `json:"captured_at,omitzero"`
}

// CaptureJudge decides whether a post-wait snapshot counts as a response.
// The shipped judge only checks that the buffer changed at all; anything
// smarter needs product input before it belongs here.
type CaptureJudge interface {
	Responded(before, after string) bool
}

type bufferChangedJudge struct{}

func (bufferChangedJudge) Responded(before, after string) bool {
	return strings.TrimSpace(after) != "" && after != before
}

// FormatPayload wraps the instruction with the conventional response shape.
// This is a prompt convention, not a schema; nothing parses the reply.
func FormatPayload(task Task) string {
	builder := strings.Builder{}
	fmt.Fprintf(&builder, "[task %s]\n", task.ID)
	builder.WriteString(strings.TrimSpace(task.Payload))
	builder.WriteString("\n\nStructure your response as:")
	builder.WriteString("\n- Assessment:")
	builder.WriteString("\n- Approach:")
	builder.WriteString("\n- Dependencies:")
	builder.WriteString("\n- Complexity:")
	builder.WriteString("\n- Recommendation:")
	return builder.String()
}
