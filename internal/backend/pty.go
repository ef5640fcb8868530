//go:build !windows

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"

	"cohort/internal/buffer"
)

const defaultCaptureLines = 2000

// PTYBackend runs each session's worker directly under a pseudo-terminal on
// this host, keeping the most recent output lines for capture. It is the
// single-host alternative to tmux.
type PTYBackend struct {
	mu            sync.Mutex
	sessions      map[string]*ptySession
	workerCommand []string
	captureLines  int
}

type ptySession struct {
	cmd *exec.Cmd
	tty *os.File

	mu      sync.Mutex
	lines   *buffer.Ring[string]
	partial string
	done    chan struct{}
}

func NewPTYBackend(workerCommand []string, captureLines int) *PTYBackend {
	if len(workerCommand) == 0 {
		workerCommand = []string{defaultShell()}
	}
	if captureLines <= 0 {
		captureLines = defaultCaptureLines
	}
	return &PTYBackend{
		sessions:      make(map[string]*ptySession),
		workerCommand: workerCommand,
		captureLines:  captureLines,
	}
}

func (b *PTYBackend) Create(ctx context.Context, sessionID string) error {
	if b == nil {
		return errors.New("pty backend unavailable")
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.sessions[sessionID]; exists {
		return fmt.Errorf("session %q already exists", sessionID)
	}

	cmd := exec.Command(b.workerCommand[0], b.workerCommand[1:]...)
	tty, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty worker: %w", err)
	}

	session := &ptySession{
		cmd:   cmd,
		tty:   tty,
		lines: buffer.NewRing[string](b.captureLines),
		done:  make(chan struct{}),
	}
	b.sessions[sessionID] = session
	go session.readLoop()
	return nil
}

func (b *PTYBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	if b == nil {
		return false, errors.New("pty backend unavailable")
	}
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	select {
	case <-session.done:
		// Worker exited; the session is no longer usable.
		return false, nil
	default:
		return true, nil
	}
}

func (b *PTYBackend) SendInput(ctx context.Context, sessionID, text string) error {
	session, err := b.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := session.tty.WriteString(text); err != nil {
		return fmt.Errorf("write to session %q: %w", sessionID, err)
	}
	return nil
}

func (b *PTYBackend) CaptureOutput(ctx context.Context, sessionID string) (string, error) {
	session, err := b.get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	captured := session.lines.List()
	if session.partial != "" {
		captured = append(captured, session.partial)
	}
	return strings.Join(captured, "\n"), nil
}

func (b *PTYBackend) Destroy(ctx context.Context, sessionID string) error {
	if b == nil {
		return errors.New("pty backend unavailable")
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if session.cmd != nil && session.cmd.Process != nil {
		_ = session.cmd.Process.Kill()
	}
	_ = session.tty.Close()
	go func() {
		// Reap the worker; readLoop closes done when the tty drains.
		_ = session.cmd.Wait()
	}()
	return nil
}

func (b *PTYBackend) get(ctx context.Context, sessionID string) (*ptySession, error) {
	if b == nil {
		return nil, errors.New("pty backend unavailable")
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *ptySession) readLoop() {
	defer close(s.done)
	chunk := make([]byte, 4096)
	for {
		n, err := s.tty.Read(chunk)
		if n > 0 {
			s.append(string(chunk[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// pty reads fail with EIO once the worker exits; either way
				// the session is done producing output.
				return
			}
			return
		}
	}
}

func (s *ptySession) append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text = s.partial + text
	parts := strings.Split(text, "\n")
	for _, line := range parts[:len(parts)-1] {
		s.lines.Add(strings.TrimRight(line, "\r"))
	}
	s.partial = parts[len(parts)-1]
}

func defaultShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
