package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultHistorySize = 1000
const defaultSubscriberBuffer = 100

// Logger writes leveled key=value lines, retains recent entries in a
// History, and fans entries out to subscribers for streaming.
type Logger struct {
	history     *History
	output      *log.Logger
	minLevel    Level
	baseContext map[string]string

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Entry
}

func NewLogger(history *History, minLevel Level) *Logger {
	return NewLoggerWithOutput(history, minLevel, os.Stdout)
}

func NewLoggerWithOutput(history *History, minLevel Level, output io.Writer) *Logger {
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	if output == nil {
		output = io.Discard
	}
	return &Logger{
		history:  history,
		output:   log.New(output, "", log.LstdFlags),
		minLevel: normalizeLevel(minLevel),
		subs:     make(map[uint64]chan Entry),
	}
}

func (l *Logger) History() *History {
	if l == nil {
		return nil
	}
	return l.history
}

// Subscribe returns a channel of entries and a cancel function. Slow
// subscribers drop entries rather than blocking the logger.
func (l *Logger) Subscribe() (<-chan Entry, func()) {
	if l == nil {
		return nil, func() {}
	}
	ch := make(chan Entry, defaultSubscriberBuffer)
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs[id] = ch
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existing, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(existing)
		}
	}
}

// With returns a logger that adds fields to every entry. The history,
// output, and subscriber set are shared with the parent.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	child := *l
	child.baseContext = mergeFields(l.baseContext, fields)
	return &child
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.baseContext, fields),
	}
	if l.history != nil {
		l.history.Add(entry)
	}
	l.broadcast(entry)
	if l.output != nil {
		l.output.Print(formatEntry(entry))
	}
}

func (l *Logger) broadcast(entry Entry) {
	l.mu.Lock()
	subs := make([]chan Entry, 0, len(l.subs))
	for _, ch := range l.subs {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func formatEntry(entry Entry) string {
	builder := strings.Builder{}
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	if len(entry.Context) == 0 {
		return builder.String()
	}

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%s=%s", key, strconv.Quote(entry.Context[key])))
	}
	return builder.String()
}
