// Package backend adapts the interactive session backends cohort can drive.
// A backend offers exactly five operations over a session: create, exists,
// send-input, capture-output, destroy. The transport carries free text with
// no request/response correlation; everything above this package is built to
// cope with that.
package backend

import (
	"context"
	"errors"
)

// ErrSessionNotFound reports an operation against a session the backend does
// not know.
var ErrSessionNotFound = errors.New("session not found")

type Backend interface {
	// Create brings up a detached session. Creating an existing session is
	// an error; callers check Exists first.
	Create(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	// SendInput writes text into the session followed by a line submit.
	SendInput(ctx context.Context, sessionID, text string) error
	// CaptureOutput snapshots the currently visible output. The snapshot is
	// best-effort; it carries no completion guarantee.
	CaptureOutput(ctx context.Context, sessionID string) (string, error)
	Destroy(ctx context.Context, sessionID string) error
}
