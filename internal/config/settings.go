package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendTmux = "tmux"
	BackendPTY  = "pty"
)

type Settings struct {
	Server   ServerSettings   `yaml:"server"`
	Backend  BackendSettings  `yaml:"backend"`
	Session  SessionSettings  `yaml:"session"`
	Router   RouterSettings   `yaml:"router"`
	Health   HealthSettings   `yaml:"health"`
	Temporal TemporalSettings `yaml:"temporal"`
	Roles    string           `yaml:"roles"`
}

type ServerSettings struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
	LogLevel  string `yaml:"log_level"`
}

type BackendSettings struct {
	Kind          string `yaml:"kind"`
	SessionPrefix string `yaml:"session_prefix"`
	// WorkerCommand launches the agent worker inside a fresh session.
	WorkerCommand []string `yaml:"worker_command"`
	// CaptureLines bounds pty capture history.
	CaptureLines int `yaml:"capture_lines"`
}

type SessionSettings struct {
	CreateTimeout   Duration `yaml:"create_timeout"`
	InitSettleDelay Duration `yaml:"init_settle_delay"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
}

type RouterSettings struct {
	CaptureDelay Duration `yaml:"capture_delay"`
	QueueSize    int      `yaml:"queue_size"`
}

type HealthSettings struct {
	ProbeInterval    Duration `yaml:"probe_interval"`
	ProbeTimeout     Duration `yaml:"probe_timeout"`
	ProbeSettleDelay Duration `yaml:"probe_settle_delay"`
	FailureThreshold int      `yaml:"failure_threshold"`
}

type TemporalSettings struct {
	Enabled   bool   `yaml:"enabled"`
	HostPort  string `yaml:"host"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

func Defaults() Settings {
	return Settings{
		Server: ServerSettings{
			Port:     8080,
			LogLevel: "info",
		},
		Backend: BackendSettings{
			Kind:          BackendTmux,
			SessionPrefix: "cohort",
			CaptureLines:  2000,
		},
		Session: SessionSettings{
			CreateTimeout:   Duration(15 * time.Second),
			InitSettleDelay: Duration(2 * time.Second),
			RetryBackoff:    Duration(500 * time.Millisecond),
		},
		Router: RouterSettings{
			CaptureDelay: Duration(8 * time.Second),
			QueueSize:    32,
		},
		Health: HealthSettings{
			ProbeInterval:    Duration(30 * time.Second),
			ProbeTimeout:     Duration(5 * time.Second),
			ProbeSettleDelay: Duration(1 * time.Second),
			FailureThreshold: 3,
		},
		Temporal: TemporalSettings{
			Enabled:   true,
			HostPort:  "127.0.0.1:7233",
			Namespace: "default",
			TaskQueue: "cohort-delegation",
		},
		Roles: "config/roles.yaml",
	}
}

// Load reads settings from path, layered over defaults. A missing file is
// not an error; the defaults apply unchanged.
func Load(path string) (Settings, error) {
	settings := Defaults()
	if strings.TrimSpace(path) == "" {
		return settings, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(payload, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) Validate() error {
	if s == nil {
		return fmt.Errorf("settings are nil")
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Server.Port)
	}
	switch s.Backend.Kind {
	case BackendTmux, BackendPTY:
	default:
		return fmt.Errorf("backend.kind %q must be %q or %q", s.Backend.Kind, BackendTmux, BackendPTY)
	}
	if s.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}
	if s.Router.CaptureDelay <= 0 {
		return fmt.Errorf("router.capture_delay must be positive")
	}
	if s.Session.CreateTimeout <= 0 {
		return fmt.Errorf("session.create_timeout must be positive")
	}
	if s.Router.QueueSize < 1 {
		return fmt.Errorf("router.queue_size must be at least 1")
	}
	return nil
}
