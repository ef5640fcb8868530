package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryBackend is an in-process Backend used by tests and local smoke runs.
// A Respond hook simulates the worker: whatever it returns for an input is
// appended to the session's visible buffer.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*memorySession

	// Respond, when set, produces the simulated worker output for an input.
	Respond func(sessionID, input string) string
	// FailCreate makes Create fail for the listed session ids.
	FailCreate map[string]bool
	// SuppressEcho skips recording sent input in the visible buffer,
	// simulating a worker whose pane shows no input echo.
	SuppressEcho bool
}

type memorySession struct {
	lines []string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*memorySession),
	}
}

func (b *MemoryBackend) Create(ctx context.Context, sessionID string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate[sessionID] {
		return fmt.Errorf("create refused for %q", sessionID)
	}
	if _, exists := b.sessions[sessionID]; exists {
		return fmt.Errorf("session %q already exists", sessionID)
	}
	b.sessions[sessionID] = &memorySession{}
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ctxDone(ctx); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sessionID]
	return ok, nil
}

func (b *MemoryBackend) SendInput(ctx context.Context, sessionID, text string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	respond := b.Respond
	b.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	var reply string
	if respond != nil {
		reply = respond(sessionID, text)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.SuppressEcho {
		session.lines = append(session.lines, "> "+strings.TrimRight(text, "\n"))
	}
	if reply != "" {
		session.lines = append(session.lines, reply)
	}
	return nil
}

func (b *MemoryBackend) CaptureOutput(ctx context.Context, sessionID string) (string, error) {
	if err := ctxDone(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	session, ok := b.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return strings.Join(session.lines, "\n"), nil
}

func (b *MemoryBackend) Destroy(ctx context.Context, sessionID string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(b.sessions, sessionID)
	return nil
}

// Drop removes a session without going through Destroy, simulating a backend
// that lost the session out from under the orchestrator.
func (b *MemoryBackend) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// AppendOutput injects worker output directly, bypassing SendInput.
func (b *MemoryBackend) AppendOutput(sessionID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.sessions[sessionID]; ok {
		session.lines = append(session.lines, line)
	}
}

func ctxDone(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
