package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cohort/internal/api"
	"cohort/internal/authz"
	"cohort/internal/backend"
	"cohort/internal/config"
	"cohort/internal/delegation"
	"cohort/internal/event"
	"cohort/internal/health"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/roster"
	"cohort/internal/router"
	"cohort/internal/session"
	"cohort/internal/temporal"
	temporalworker "cohort/internal/temporal/worker"
	"cohort/internal/watcher"
)

const defaultSettingsPath = "config/cohort.yaml"
const shutdownTimeout = 10 * time.Second

func main() {
	settingsPath := os.Getenv("COHORT_CONFIG")
	if settingsPath == "" {
		settingsPath = defaultSettingsPath
	}
	settings, err := config.Load(settingsPath)
	if err != nil {
		logging.NewLogger(nil, logging.LevelError).Error("load settings failed", map[string]string{
			"path":  settingsPath,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	applyEnvOverrides(&settings)

	logLevel, ok := logging.ParseLevel(settings.Server.LogLevel)
	if !ok {
		logLevel = logging.LevelInfo
	}
	history := logging.NewHistory(logging.DefaultHistorySize)
	logger := logging.NewLogger(history, logLevel)

	agents, err := roster.Load(settings.Roles)
	if err != nil {
		logger.Error("load roles failed", map[string]string{
			"path":  settings.Roles,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.Info("roster loaded", map[string]string{
		"agents":   strconv.Itoa(agents.Len()),
		"managers": strconv.Itoa(len(agents.Managers())),
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus[event.Event](rootCtx, event.BusOptions{})
	registry := metrics.Default

	sessionBackend, err := buildBackend(settings)
	if err != nil {
		logger.Error("backend unavailable", map[string]string{
			"kind":  settings.Backend.Kind,
			"error": err.Error(),
		})
		os.Exit(1)
	}

	sessions := session.NewManager(session.ManagerOptions{
		Backend:         sessionBackend,
		Roster:          agents,
		Logger:          logger,
		Metrics:         registry,
		Bus:             bus,
		SessionPrefix:   settings.Backend.SessionPrefix,
		CreateTimeout:   time.Duration(settings.Session.CreateTimeout),
		InitSettleDelay: time.Duration(settings.Session.InitSettleDelay),
		RetryBackoff:    time.Duration(settings.Session.RetryBackoff),
	})

	taskRouter := router.New(router.Options{
		Sessions:            sessions,
		Backend:             sessionBackend,
		Logger:              logger,
		Metrics:             registry,
		Bus:                 bus,
		DefaultCaptureDelay: time.Duration(settings.Router.CaptureDelay),
		QueueSize:           settings.Router.QueueSize,
	})

	store := authz.NewStore(authz.StoreOptions{
		Logger:  logger,
		Metrics: registry,
		Bus:     bus,
	})

	monitor := health.NewMonitor(health.MonitorOptions{
		Sessions:         sessions,
		Backend:          sessionBackend,
		Invalidator:      taskRouter,
		Logger:           logger,
		Metrics:          registry,
		Bus:              bus,
		Interval:         time.Duration(settings.Health.ProbeInterval),
		SettleDelay:      time.Duration(settings.Health.ProbeSettleDelay),
		ProbeTimeout:     time.Duration(settings.Health.ProbeTimeout),
		FailureThreshold: settings.Health.FailureThreshold,
	})
	go monitor.Run(rootCtx)

	var engine *delegation.Engine
	var workflowClient temporal.WorkflowClient
	if settings.Temporal.Enabled {
		workflowClient, err = temporal.NewClient(temporal.ClientConfig{
			HostPort:  settings.Temporal.HostPort,
			Namespace: settings.Temporal.Namespace,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("temporal unavailable, delegation disabled", map[string]string{
				"host":  settings.Temporal.HostPort,
				"error": err.Error(),
			})
		} else {
			if err := temporalworker.StartWorker(temporalworker.Dependencies{
				Client:  workflowClient,
				Router:  taskRouter,
				Roster:  agents,
				Authz:   store,
				Logger:  logger,
				Metrics: registry,
			}); err != nil {
				logger.Error("temporal worker failed to start", map[string]string{
					"error": err.Error(),
				})
			}
			engine = delegation.NewEngine(delegation.EngineOptions{
				Client:  workflowClient,
				Roster:  agents,
				Authz:   store,
				Logger:  logger,
				Metrics: registry,
			})
		}
	} else {
		logger.Info("temporal disabled, delegation endpoints unavailable", nil)
	}

	configWatcher, err := watcher.New(watcher.Options{Logger: logger})
	if err != nil {
		logger.Warn("config watcher unavailable", map[string]string{
			"error": err.Error(),
		})
	} else {
		defer configWatcher.Close()
		watchErr := watcher.WatchConfig(configWatcher, watcher.ReloadOptions{
			SettingsPath: settingsPath,
			RolesPath:    settings.Roles,
			Logger:       logger,
			Bus:          bus,
			ApplySettings: func(reloaded config.Settings) {
				taskRouter.SetDefaultCaptureDelay(time.Duration(reloaded.Router.CaptureDelay))
			},
		})
		if watchErr != nil {
			logger.Warn("config watch failed", map[string]string{
				"error": watchErr.Error(),
			})
		}
	}

	rest := &api.RestHandler{
		Engine:   engine,
		Sessions: sessions,
		Router:   taskRouter,
		Health:   monitor,
		Roster:   agents,
		Metrics:  registry,
		Logger:   logger,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, rest, bus, api.RouteConfig{
		AuthToken:      settings.Server.AuthToken,
		AllowedOrigins: splitList(os.Getenv("COHORT_ALLOWED_ORIGINS")),
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(settings.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.ListenAndServe()
	}()
	logger.Info("cohort listening", map[string]string{
		"addr":    server.Addr,
		"backend": settings.Backend.Kind,
	})

	select {
	case <-rootCtx.Done():
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	temporalworker.StopWorker()
	if workflowClient != nil {
		workflowClient.Close()
	}
	taskRouter.Close()
	sessions.StopAll(shutdownCtx)
	logger.Info("cohort stopped", nil)
}

func buildBackend(settings config.Settings) (backend.Backend, error) {
	switch settings.Backend.Kind {
	case config.BackendPTY:
		return backend.NewPTYBackend(settings.Backend.WorkerCommand, settings.Backend.CaptureLines), nil
	case config.BackendTmux:
		return backend.NewTmuxBackend(settings.Backend.WorkerCommand), nil
	default:
		return nil, errors.New("unknown backend kind " + strconv.Quote(settings.Backend.Kind))
	}
}

func applyEnvOverrides(settings *config.Settings) {
	if rawPort := os.Getenv("COHORT_PORT"); rawPort != "" {
		if parsed, err := strconv.Atoi(rawPort); err == nil && parsed > 0 {
			settings.Server.Port = parsed
		}
	}
	if token := os.Getenv("COHORT_AUTH_TOKEN"); token != "" {
		settings.Server.AuthToken = token
	}
	if level := os.Getenv("COHORT_LOG_LEVEL"); level != "" {
		settings.Server.LogLevel = level
	}
	if roles := os.Getenv("COHORT_ROLES"); roles != "" {
		settings.Roles = roles
	}
	if kind := os.Getenv("COHORT_BACKEND"); kind != "" {
		settings.Backend.Kind = kind
	}
	if host := os.Getenv("COHORT_TEMPORAL_HOST"); host != "" {
		settings.Temporal.HostPort = host
	}
	if rawEnabled := os.Getenv("COHORT_TEMPORAL_ENABLED"); rawEnabled != "" {
		if parsed, err := strconv.ParseBool(rawEnabled); err == nil {
			settings.Temporal.Enabled = parsed
		}
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
