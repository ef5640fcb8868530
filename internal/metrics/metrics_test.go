package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWritePrometheusIncludesCounters(t *testing.T) {
	registry := &Registry{}
	registry.IncDispatch("completed")
	registry.IncDispatch("completed")
	registry.IncDispatch("timed_out")
	registry.IncDispatch("failed")
	registry.IncAuthDecided("authorized")
	registry.IncAuthDecided("denied")
	registry.RecordCapture("backend", 3*time.Second)

	output := &bytes.Buffer{}
	if err := registry.WritePrometheus(output); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := output.String()

	for _, want := range []string{
		"cohort_dispatches_completed_total 2",
		"cohort_dispatches_timed_out_total 1",
		"cohort_dispatches_failed_total 1",
		`cohort_authorizations_decided_total{decision="authorized"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in output:\n%s", want, text)
		}
	}
	if !strings.Contains(text, "cohort_capture_wait_seconds_count") {
		t.Fatalf("missing capture summary:\n%s", text)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncDispatch("completed")
	registry.IncAuthDecided("denied")
	if err := registry.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("write: %v", err)
	}
}
