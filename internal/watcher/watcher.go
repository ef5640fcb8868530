// Package watcher delivers debounced file-change notifications. Editors and
// config management tools write files as bursts of small events; callers get
// one callback per burst instead.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"cohort/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

type Options struct {
	Logger   *logging.Logger
	Debounce time.Duration
}

// Event is one debounced change to a watched file.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

type Watcher struct {
	fs       *fsnotify.Watcher
	logger   *logging.Logger
	debounce time.Duration

	mu        sync.Mutex
	closed    bool
	callbacks map[string][]func(Event)
	timers    map[string]*time.Timer
	pending   map[string]Event
	watched   map[string]bool

	done chan struct{}
}

func New(options Options) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{
		fs:        fs,
		logger:    options.Logger,
		debounce:  debounce,
		callbacks: make(map[string][]func(Event)),
		timers:    make(map[string]*time.Timer),
		pending:   make(map[string]Event),
		watched:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch registers a callback for changes to one file. The file's directory
// is watched rather than the file itself, so atomic rename-into-place saves
// still arrive.
func (w *Watcher) Watch(path string, callback func(Event)) error {
	if w == nil || callback == nil {
		return nil
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	directory := filepath.Dir(absolute)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watched[directory] {
		if err := w.fs.Add(directory); err != nil {
			return err
		}
		w.watched[directory] = true
	}
	w.callbacks[absolute] = append(w.callbacks[absolute], callback)
	return nil
}

func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case fsEvent, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(fsEvent)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("file watch error", map[string]string{
					"error": err.Error(),
				})
			}
		}
	}
}

func (w *Watcher) handle(fsEvent fsnotify.Event) {
	if fsEvent.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	path := filepath.Clean(fsEvent.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if len(w.callbacks[path]) == 0 {
		return
	}

	w.pending[path] = Event{
		Path:      path,
		Op:        fsEvent.Op,
		Timestamp: time.Now().UTC(),
	}
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flush(path)
	})
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	pendingEvent, ok := w.pending[path]
	delete(w.pending, path)
	callbacks := append([]func(Event){}, w.callbacks[path]...)
	w.mu.Unlock()

	if !ok {
		return
	}
	for _, callback := range callbacks {
		callback(pendingEvent)
	}
}
