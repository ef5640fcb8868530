package logging

import (
	"sync"

	"cohort/internal/buffer"
)

// History retains the most recent log entries for API inspection.
type History struct {
	mu      sync.Mutex
	entries *buffer.Ring[Entry]
}

func NewHistory(size int) *History {
	return &History{
		entries: buffer.NewRing[Entry](size),
	}
}

func (h *History) Add(entry Entry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries.Add(entry)
}

func (h *History) List() []Entry {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.List()
}
