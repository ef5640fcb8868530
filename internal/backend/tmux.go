package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes tmux commands with optional stdin data.
type CommandRunner interface {
	Run(ctx context.Context, args []string, input []byte) ([]byte, error)
}

// TmuxBackend drives sessions through the tmux CLI. Each cohort session maps
// to one detached tmux session.
type TmuxBackend struct {
	runner CommandRunner
	// workerCommand, when set, is launched inside new sessions.
	workerCommand []string
}

func NewTmuxBackend(workerCommand []string) *TmuxBackend {
	return &TmuxBackend{runner: execRunner{}, workerCommand: workerCommand}
}

func NewTmuxBackendWithRunner(runner CommandRunner, workerCommand []string) *TmuxBackend {
	return &TmuxBackend{runner: runner, workerCommand: workerCommand}
}

func (b *TmuxBackend) Create(ctx context.Context, sessionID string) error {
	args := []string{"new-session", "-d", "-s", sessionID}
	if len(b.workerCommand) > 0 {
		args = append(args, "--")
		args = append(args, b.workerCommand...)
	}
	return b.run(ctx, args, nil)
}

func (b *TmuxBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	if b == nil || b.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	output, err := b.runner.Run(ctx, []string{"has-session", "-t", sessionID}, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

// SendInput loads the text into the tmux paste buffer, pastes it into the
// session, and submits with Enter. The paste buffer path survives multi-line
// payloads that send-keys would mangle.
func (b *TmuxBackend) SendInput(ctx context.Context, sessionID, text string) error {
	if err := b.run(ctx, []string{"load-buffer", "-"}, []byte(text)); err != nil {
		return err
	}
	if err := b.run(ctx, []string{"paste-buffer", "-d", "-t", sessionID}, nil); err != nil {
		return err
	}
	return b.run(ctx, []string{"send-keys", "-t", sessionID, "Enter"}, nil)
}

func (b *TmuxBackend) CaptureOutput(ctx context.Context, sessionID string) (string, error) {
	output, err := b.runWithOutput(ctx, []string{"capture-pane", "-p", "-t", sessionID}, nil)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func (b *TmuxBackend) Destroy(ctx context.Context, sessionID string) error {
	return b.run(ctx, []string{"kill-session", "-t", sessionID}, nil)
}

func (b *TmuxBackend) run(ctx context.Context, args []string, input []byte) error {
	_, err := b.runWithOutput(ctx, args, input)
	return err
}

func (b *TmuxBackend) runWithOutput(ctx context.Context, args []string, input []byte) ([]byte, error) {
	if b == nil || b.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	output, err := b.runner.Run(ctx, args, input)
	if err != nil {
		if len(output) > 0 {
			return nil, fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return nil, fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return output, nil
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, args []string, input []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}

// SanitizeSessionID keeps tmux target names safe: tmux treats ':' and '.' as
// target separators.
func SanitizeSessionID(raw string) string {
	replacer := strings.NewReplacer(":", "-", ".", "-", " ", "-")
	return replacer.Replace(strings.TrimSpace(raw))
}
