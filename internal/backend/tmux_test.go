package backend

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

type fakeRunner struct {
	calls   [][]string
	inputs  [][]byte
	outputs map[string][]byte
	errs    map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, args []string, input []byte) ([]byte, error) {
	r.calls = append(r.calls, args)
	r.inputs = append(r.inputs, input)
	key := args[0]
	return r.outputs[key], r.errs[key]
}

func (r *fakeRunner) call(index int) string {
	if index >= len(r.calls) {
		return ""
	}
	return strings.Join(r.calls[index], " ")
}

func TestTmuxCreateWithWorkerCommand(t *testing.T) {
	runner := &fakeRunner{}
	tmux := NewTmuxBackendWithRunner(runner, []string{"worker", "--role", "backend"})

	if err := tmux.Create(context.Background(), "cohort-backend"); err != nil {
		t.Fatalf("create: %v", err)
	}
	want := "new-session -d -s cohort-backend -- worker --role backend"
	if runner.call(0) != want {
		t.Fatalf("unexpected args: %q", runner.call(0))
	}
}

func TestTmuxSendInputUsesPasteBuffer(t *testing.T) {
	runner := &fakeRunner{}
	tmux := NewTmuxBackendWithRunner(runner, nil)

	payload := "line one\nline two"
	if err := tmux.SendInput(context.Background(), "cohort-db", payload); err != nil {
		t.Fatalf("send input: %v", err)
	}

	if runner.call(0) != "load-buffer -" {
		t.Fatalf("expected load-buffer first, got %q", runner.call(0))
	}
	if string(runner.inputs[0]) != payload {
		t.Fatalf("unexpected stdin payload: %q", runner.inputs[0])
	}
	if runner.call(1) != "paste-buffer -d -t cohort-db" {
		t.Fatalf("unexpected paste call: %q", runner.call(1))
	}
	if runner.call(2) != "send-keys -t cohort-db Enter" {
		t.Fatalf("unexpected submit call: %q", runner.call(2))
	}
}

func TestTmuxExistsTreatsExitErrorAsMissing(t *testing.T) {
	runner := &fakeRunner{
		errs: map[string]error{"has-session": &exec.ExitError{}},
	}
	tmux := NewTmuxBackendWithRunner(runner, nil)

	exists, err := tmux.Exists(context.Background(), "cohort-ghost")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected session to be reported missing")
	}
}

func TestTmuxExistsSurfacesOtherErrors(t *testing.T) {
	runner := &fakeRunner{
		errs: map[string]error{"has-session": errors.New("tmux not installed")},
	}
	tmux := NewTmuxBackendWithRunner(runner, nil)

	if _, err := tmux.Exists(context.Background(), "cohort-x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTmuxCaptureOutput(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string][]byte{"capture-pane": []byte("ready\n$ ")},
	}
	tmux := NewTmuxBackendWithRunner(runner, nil)

	output, err := tmux.CaptureOutput(context.Background(), "cohort-fe")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if output != "ready\n$ " {
		t.Fatalf("unexpected output: %q", output)
	}
	if runner.call(0) != "capture-pane -p -t cohort-fe" {
		t.Fatalf("unexpected args: %q", runner.call(0))
	}
}

func TestTmuxDestroy(t *testing.T) {
	runner := &fakeRunner{}
	tmux := NewTmuxBackendWithRunner(runner, nil)

	if err := tmux.Destroy(context.Background(), "cohort-fe"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if runner.call(0) != "kill-session -t cohort-fe" {
		t.Fatalf("unexpected args: %q", runner.call(0))
	}
}

func TestTmuxErrorIncludesCommandOutput(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string][]byte{"kill-session": []byte("no such session\n")},
		errs:    map[string]error{"kill-session": errors.New("exit status 1")},
	}
	tmux := NewTmuxBackendWithRunner(runner, nil)

	err := tmux.Destroy(context.Background(), "cohort-fe")
	if err == nil || !strings.Contains(err.Error(), "no such session") {
		t.Fatalf("expected wrapped output, got %v", err)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	if got := SanitizeSessionID(" cohort:api.dev "); got != "cohort-api-dev" {
		t.Fatalf("unexpected sanitized id: %q", got)
	}
}
