//go:build windows

package backend

import (
	"context"
	"errors"
)

var errPTYUnsupported = errors.New("pty backend is not supported on windows; use the tmux backend under WSL")

// PTYBackend is a stub on windows.
type PTYBackend struct{}

func NewPTYBackend(workerCommand []string, captureLines int) *PTYBackend {
	return &PTYBackend{}
}

func (b *PTYBackend) Create(ctx context.Context, sessionID string) error {
	return errPTYUnsupported
}

func (b *PTYBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	return false, errPTYUnsupported
}

func (b *PTYBackend) SendInput(ctx context.Context, sessionID, text string) error {
	return errPTYUnsupported
}

func (b *PTYBackend) CaptureOutput(ctx context.Context, sessionID string) (string, error) {
	return "", errPTYUnsupported
}

func (b *PTYBackend) Destroy(ctx context.Context, sessionID string) error {
	return errPTYUnsupported
}
