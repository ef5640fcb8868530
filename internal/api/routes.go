package api

import (
	"net/http"

	"cohort/internal/event"
)

type RouteConfig struct {
	AuthToken      string
	AllowedOrigins []string
}

// RegisterRoutes wires the REST surface and the websocket streams onto mux.
func RegisterRoutes(mux *http.ServeMux, rest *RestHandler, bus *event.Bus[event.Event], config RouteConfig) {
	logger := rest.Logger
	wrap := func(handler apiHandler) http.Handler {
		return loggingMiddleware(logger, restHandler(config.AuthToken, handler))
	}

	mux.Handle("/ws/events", securityHeadersMiddleware(cacheControlNoStore, &EventsHandler{
		Bus:            bus,
		Logger:         logger,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
	}))
	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, &LogsHandler{
		Logger:         logger,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
	}))

	mux.Handle("/api/status", wrap(rest.handleStatus))
	mux.Handle("/api/agents", wrap(rest.handleAgents))
	mux.Handle("/api/health", wrap(rest.handleHealth))
	mux.Handle("/api/logs", wrap(rest.handleLogs))
	mux.Handle("/api/projects", wrap(rest.handleProjects))
	mux.Handle("/api/projects/", wrap(rest.handleProject))
	mux.Handle("/api/authorizations", wrap(rest.handleAuthorizations))
	mux.Handle("/api/authorizations/", wrap(rest.handleAuthorizationDecision))
	mux.Handle("/api/dispatch", wrap(rest.handleDispatch))
	mux.Handle("/api/broadcast", wrap(rest.handleBroadcast))
	mux.Handle("/metrics", wrap(rest.handleMetrics))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		setSecurityHeaders(w, cacheControlNoStore)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("cohort ok\n"))
	})
}
