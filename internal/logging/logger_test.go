package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesFormattedLine(t *testing.T) {
	output := &bytes.Buffer{}
	logger := NewLoggerWithOutput(NewHistory(10), LevelDebug, output)

	logger.Info("session started", map[string]string{"agent": "backend"})

	line := output.String()
	if !strings.Contains(line, `level=info`) {
		t.Fatalf("missing level in %q", line)
	}
	if !strings.Contains(line, `msg="session started"`) {
		t.Fatalf("missing message in %q", line)
	}
	if !strings.Contains(line, `agent="backend"`) {
		t.Fatalf("missing field in %q", line)
	}
}

func TestLoggerRespectsMinLevel(t *testing.T) {
	output := &bytes.Buffer{}
	logger := NewLoggerWithOutput(NewHistory(10), LevelWarning, output)

	logger.Debug("ignored", nil)
	logger.Info("ignored", nil)
	logger.Error("kept", nil)

	entries := logger.History().List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelError {
		t.Fatalf("expected error entry, got %s", entries[0].Level)
	}
}

func TestLoggerWithAddsBaseFields(t *testing.T) {
	output := &bytes.Buffer{}
	logger := NewLoggerWithOutput(NewHistory(10), LevelInfo, output)
	child := logger.With(map[string]string{"component": "router"})

	child.Info("dispatched", map[string]string{"task": "t-1"})

	entries := logger.History().List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	context := entries[0].Context
	if context["component"] != "router" || context["task"] != "t-1" {
		t.Fatalf("unexpected context: %v", context)
	}
}

func TestSubscribeReceivesEntries(t *testing.T) {
	logger := NewLoggerWithOutput(NewHistory(10), LevelInfo, nil)
	ch, cancel := logger.Subscribe()
	defer cancel()

	logger.Warn("probe failed", nil)

	select {
	case entry := <-ch:
		if entry.Message != "probe failed" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	default:
		t.Fatal("expected buffered entry")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	logger := NewLoggerWithOutput(NewHistory(10), LevelInfo, nil)
	ch, cancel := logger.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"warn":  LevelWarning,
		"error": LevelError,
	}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.Enabled(LevelError) {
		t.Fatal("nil logger should report disabled")
	}
}
