package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort      = 8000
	DefaultWebSocketPath = "/websocket"
	DefaultStaticDir     = "static"
	DefaultInterval      = 15 * time.Second
	DefaultHealthURL     = "https://api.shuttle.rs"
	DefaultProbeTimeout  = 10 * time.Second
	DefaultLogLevel      = "info"

	DefaultCertCheckInterval = time.Hour
	DefaultHistoryRetention  = time.Hour
	DefaultHistoryMaxEntries = 240
	DefaultFailureThreshold  = 1
	DefaultAlertCooldown     = 15 * time.Minute
)

// Config is the top-level configuration of statuscast-server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Status  StatusConfig  `yaml:"status"`
	History HistoryConfig `yaml:"history"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the WebSocket endpoint, API and static files listen on.
	HTTPPort int `yaml:"http_port"`

	// WebSocketPath is the route upgraded to a WebSocket connection.
	WebSocketPath string `yaml:"websocket_path"`

	// StaticDir is served for every request no other route matches.
	// Leave empty to disable the fallback.
	StaticDir string `yaml:"static_dir"`
}

// StatusConfig controls the snapshot publisher and its upstream probe.
type StatusConfig struct {
	// Interval is how long the publisher waits between two snapshots.
	// Zero republishes continuously and is meant for tests.
	Interval time.Duration `yaml:"interval"`

	// HealthURL is the upstream endpoint probed once per cycle.
	HealthURL string `yaml:"health_url"`

	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// StrictStatus marks the upstream down on a 5xx response. When false any
	// completed HTTP exchange counts as up.
	StrictStatus bool `yaml:"strict_status"`

	// InsecureSkipVerify disables TLS certificate verification for the probe.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// CAFile is an optional PEM bundle used to verify the upstream certificate.
	CAFile string `yaml:"ca_file"`

	// CertCheckInterval is how often the upstream TLS certificate is
	// inspected. Zero disables the check; it is skipped for plain-HTTP URLs.
	CertCheckInterval time.Duration `yaml:"cert_check_interval"`
}

// HistoryConfig controls the in-memory snapshot history.
type HistoryConfig struct {
	// Retention is how long a published snapshot is kept.
	Retention time.Duration `yaml:"retention"`

	// MaxEntries caps the number of kept snapshots. Zero disables history.
	MaxEntries int `yaml:"max_entries"`
}

// AlertsConfig configures upstream up/down notifications.
type AlertsConfig struct {
	// FailureThreshold is the number of consecutive failed probes before the
	// upstream is reported down.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown suppresses repeated down notifications after a flap.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q unknown: want debug|info|warn|error", l.Level)
	}
	return lvl, nil
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:      DefaultHTTPPort,
			WebSocketPath: DefaultWebSocketPath,
			StaticDir:     DefaultStaticDir,
		},
		Status: StatusConfig{
			Interval:          DefaultInterval,
			HealthURL:         DefaultHealthURL,
			ProbeTimeout:      DefaultProbeTimeout,
			CertCheckInterval: DefaultCertCheckInterval,
		},
		History: HistoryConfig{
			Retention:  DefaultHistoryRetention,
			MaxEntries: DefaultHistoryMaxEntries,
		},
		Alerts: AlertsConfig{
			FailureThreshold: DefaultFailureThreshold,
			Cooldown:         DefaultAlertCooldown,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if !strings.HasPrefix(cfg.Server.WebSocketPath, "/") {
		return fmt.Errorf("server.websocket_path %q must start with /", cfg.Server.WebSocketPath)
	}
	if cfg.Status.Interval < 0 {
		return fmt.Errorf("status.interval must not be negative")
	}
	if cfg.Status.ProbeTimeout <= 0 {
		return fmt.Errorf("status.probe_timeout must be positive")
	}
	u, err := url.Parse(cfg.Status.HealthURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("status.health_url %q must be an absolute http(s) URL", cfg.Status.HealthURL)
	}
	if cfg.Status.CertCheckInterval < 0 {
		return fmt.Errorf("status.cert_check_interval must not be negative")
	}
	if cfg.History.Retention < 0 || cfg.History.MaxEntries < 0 {
		return fmt.Errorf("history.retention and history.max_entries must not be negative")
	}
	if cfg.Alerts.FailureThreshold < 1 {
		return fmt.Errorf("alerts.failure_threshold must be at least 1")
	}
	if cfg.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("alerts.webhooks[%d].url_env is required", i)
		}
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}
