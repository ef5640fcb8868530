package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry accumulates cohort's operational counters. The zero value is
// usable; Default serves components that are not handed a registry.
type Registry struct {
	dispatchCompleted atomic.Int64
	dispatchTimedOut  atomic.Int64
	dispatchFailed    atomic.Int64
	broadcasts        atomic.Int64

	sessionsCreated   atomic.Int64
	sessionsRestarted atomic.Int64

	authSubmitted atomic.Int64
	authDecided   sync.Map // decision -> *atomic.Int64

	probeFailures atomic.Int64
	restarts      atomic.Int64

	chainsStarted   atomic.Int64
	chainsCompleted atomic.Int64
	chainsHalted    atomic.Int64

	captures sync.Map // agentID -> *captureStats
}

type captureStats struct {
	count         atomic.Int64
	durationNanos atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncDispatch(state string) {
	if r == nil {
		return
	}
	switch state {
	case "completed":
		r.dispatchCompleted.Add(1)
	case "timed_out":
		r.dispatchTimedOut.Add(1)
	default:
		r.dispatchFailed.Add(1)
	}
}

func (r *Registry) IncBroadcast() {
	if r == nil {
		return
	}
	r.broadcasts.Add(1)
}

func (r *Registry) IncSessionCreated() {
	if r == nil {
		return
	}
	r.sessionsCreated.Add(1)
}

func (r *Registry) IncSessionRestarted() {
	if r == nil {
		return
	}
	r.sessionsRestarted.Add(1)
}

func (r *Registry) IncAuthSubmitted() {
	if r == nil {
		return
	}
	r.authSubmitted.Add(1)
}

func (r *Registry) IncAuthDecided(decision string) {
	if r == nil {
		return
	}
	if strings.TrimSpace(decision) == "" {
		decision = "unknown"
	}
	value, _ := r.authDecided.LoadOrStore(decision, &atomic.Int64{})
	value.(*atomic.Int64).Add(1)
}

func (r *Registry) IncProbeFailure() {
	if r == nil {
		return
	}
	r.probeFailures.Add(1)
}

func (r *Registry) IncRestart() {
	if r == nil {
		return
	}
	r.restarts.Add(1)
}

func (r *Registry) IncChainStarted() {
	if r == nil {
		return
	}
	r.chainsStarted.Add(1)
}

func (r *Registry) IncChainCompleted() {
	if r == nil {
		return
	}
	r.chainsCompleted.Add(1)
}

func (r *Registry) IncChainHalted() {
	if r == nil {
		return
	}
	r.chainsHalted.Add(1)
}

// RecordCapture tracks per-agent capture wait durations.
func (r *Registry) RecordCapture(agentID string, duration time.Duration) {
	if r == nil {
		return
	}
	if strings.TrimSpace(agentID) == "" {
		agentID = "unknown"
	}
	value, _ := r.captures.LoadOrStore(agentID, &captureStats{})
	stats := value.(*captureStats)
	stats.count.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
}

// WritePrometheus emits the registry in Prometheus text exposition format.
func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "cohort_dispatches_completed_total", "Dispatches resolved with a captured snapshot", r.dispatchCompleted.Load())
	writeCounter(writer, "cohort_dispatches_timed_out_total", "Dispatches that hit the capture deadline", r.dispatchTimedOut.Load())
	writeCounter(writer, "cohort_dispatches_failed_total", "Dispatches failed on backend or session errors", r.dispatchFailed.Load())
	writeCounter(writer, "cohort_broadcasts_total", "Broadcast dispatch fan-outs", r.broadcasts.Load())
	writeCounter(writer, "cohort_sessions_created_total", "Sessions created", r.sessionsCreated.Load())
	writeCounter(writer, "cohort_sessions_restarted_total", "Sessions restarted", r.sessionsRestarted.Load())
	writeCounter(writer, "cohort_authorizations_submitted_total", "Authorization requests submitted", r.authSubmitted.Load())
	writeCounter(writer, "cohort_health_probe_failures_total", "Failed health probes", r.probeFailures.Load())
	writeCounter(writer, "cohort_health_restarts_total", "Restarts triggered by the health monitor", r.restarts.Load())
	writeCounter(writer, "cohort_chains_started_total", "Delegation chains started", r.chainsStarted.Load())
	writeCounter(writer, "cohort_chains_completed_total", "Delegation chains completed", r.chainsCompleted.Load())
	writeCounter(writer, "cohort_chains_halted_total", "Delegation chains halted", r.chainsHalted.Load())

	writeHelp(writer, "cohort_authorizations_decided_total", "Authorization decisions by kind")
	fmt.Fprintln(writer, "# TYPE cohort_authorizations_decided_total counter")
	for _, decision := range sortedKeys(&r.authDecided) {
		value, _ := r.authDecided.Load(decision)
		fmt.Fprintf(writer, "cohort_authorizations_decided_total{decision=%s} %d\n", formatLabel(decision), value.(*atomic.Int64).Load())
	}

	writeHelp(writer, "cohort_capture_wait_seconds", "Capture wait durations per agent")
	fmt.Fprintln(writer, "# TYPE cohort_capture_wait_seconds summary")
	for _, agentID := range sortedKeys(&r.captures) {
		value, _ := r.captures.Load(agentID)
		stats := value.(*captureStats)
		label := formatLabel(agentID)
		seconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "cohort_capture_wait_seconds_sum{agent=%s} %.6f\n", label, seconds)
		fmt.Fprintf(writer, "cohort_capture_wait_seconds_count{agent=%s} %d\n", label, stats.count.Load())
	}

	return nil
}

func sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			keys = append(keys, name)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
