package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cohort/internal/event"
	"cohort/internal/logging"

	"github.com/gorilla/websocket"
)

// EventsHandler streams orchestrator events over a websocket. Clients may
// narrow the stream by sending {"subscribe": ["task_completed", ...]}.
type EventsHandler struct {
	Bus            *event.Bus[event.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type eventSubscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

type eventPayload struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

var knownEventTypes = map[string]struct{}{
	event.TypeSessionStarted:         {},
	event.TypeSessionRestarted:       {},
	event.TypeSessionStopped:         {},
	event.TypeTaskDispatched:         {},
	event.TypeTaskCompleted:          {},
	event.TypeTaskTimedOut:           {},
	event.TypeTaskFailed:             {},
	event.TypeAuthorizationSubmitted: {},
	event.TypeAuthorizationDecided:   {},
	event.TypeHealthChanged:          {},
	event.TypeConfigReloaded:         {},
}

type eventFilter struct {
	mutex sync.RWMutex
	types map[string]struct{}
}

// Allows defaults to everything until the client sends a subscription.
func (filter *eventFilter) Allows(eventType string) bool {
	filter.mutex.RLock()
	defer filter.mutex.RUnlock()
	if filter.types == nil {
		return true
	}
	_, ok := filter.types[eventType]
	return ok
}

func (filter *eventFilter) Set(subscriptions []string) {
	types := make(map[string]struct{})
	for _, eventType := range subscriptions {
		if _, ok := knownEventTypes[eventType]; ok {
			types[eventType] = struct{}{}
		}
	}
	filter.mutex.Lock()
	filter.types = types
	filter.mutex.Unlock()
}

func eventData(payload event.Event) any {
	switch typed := payload.(type) {
	case event.SessionEvent:
		data := map[string]string{
			"agent_id":   typed.AgentID,
			"session_id": typed.SessionID,
		}
		if typed.Reason != "" {
			data["reason"] = typed.Reason
		}
		return data
	case event.TaskEvent:
		return map[string]string{
			"task_id":  typed.TaskID,
			"agent_id": typed.AgentID,
			"state":    typed.State,
		}
	case event.AuthorizationEvent:
		data := map[string]string{
			"request_id": typed.RequestID,
			"requester":  typed.Requester,
			"target":     typed.Target,
		}
		if typed.Decision != "" {
			data["decision"] = typed.Decision
		}
		return data
	case event.HealthEvent:
		return map[string]string{
			"agent_id": typed.AgentID,
			"previous": typed.Previous,
			"current":  typed.Current,
		}
	case event.ConfigEvent:
		return map[string]string{
			"path": typed.Path,
		}
	default:
		return nil
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	if h.Bus == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "event bus unavailable",
		})
		return
	}

	events, cancel := h.Bus.Subscribe()
	defer cancel()

	filter := &eventFilter{}
	writer, err := startWSWriteLoop(conn, wsStreamConfig[event.Event]{
		Output: events,
		Logger: h.Logger,
		BuildPayload: func(payload event.Event) (any, bool) {
			if payload == nil || !filter.Allows(payload.Type()) {
				return nil, false
			}
			return eventPayload{
				Type:      payload.Type(),
				Timestamp: payload.Timestamp(),
				Data:      eventData(payload),
			}, true
		},
	})
	if err != nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:  http.StatusInternalServerError,
			Message: "event stream unavailable",
			Err:     err,
		})
		return
	}
	defer writer.Stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload eventSubscribeMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		filter.Set(payload.Subscribe)
	}
}
