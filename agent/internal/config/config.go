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

// Default values applied when fields are absent from the config file.
const (
	DefaultScanInterval      = 10 // minutes
	DefaultBaseURL           = "https://www.octotelematics.it/octo"
	DefaultHTTPPort          = 8080
	DefaultBroadcastInterval = 5 * time.Second
	DefaultLogLevel          = "info"
	DefaultAuthHeader        = "X-API-Key"
	DefaultStoragePath       = "octo-agent.db"
	DefaultAlertsInterval    = time.Minute
)

// Config is the top-level configuration file.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all connector settings.
type AgentConfig struct {
	// Username is the OCTO Telematics portal login.
	Username string `yaml:"username"`

	// Password is the literal portal password. Prefer PasswordEnv.
	Password string `yaml:"password"`

	// PasswordEnv names the environment variable holding the password.
	// Takes precedence over Password when set.
	PasswordEnv string `yaml:"password_env"`

	// ScanInterval is the polling cadence in whole minutes.
	ScanInterval int `yaml:"scan_interval"`

	// BaseURL is the portal root; login and statistics paths hang off it.
	BaseURL string `yaml:"base_url"`

	// LogLevel is one of debug | info | warn | error. debug enables the
	// per-attempt diagnostics.
	LogLevel string `yaml:"log_level"`

	// HTTPPort is the port the sensor API, metrics and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval controls how often the WebSocket hub pushes the
	// measurement to connected clients.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	TLS     TLSConfig     `yaml:"tls"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// Secret returns the portal password, resolved from the environment when
// PasswordEnv is set.
func (a AgentConfig) Secret() string {
	if a.PasswordEnv != "" {
		return os.Getenv(a.PasswordEnv)
	}
	return a.Password
}

// Interval returns ScanInterval as a duration.
func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.ScanInterval) * time.Minute
}

// SlogLevel maps LogLevel onto a slog.Level. Unknown values map to info.
func (a AgentConfig) SlogLevel() slog.Level {
	switch strings.ToLower(a.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TLSConfig holds upstream TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification against the
	// portal. Only for debugging behind intercepting proxies.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AuthConfig configures authentication on the sensor API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header carrying the key. Defaults to X-API-Key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// StorageConfig configures persistence of the latest reading.
type StorageConfig struct {
	// Backend selects the implementation: memory | sqlite.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// EvaluateInterval is how often rules are checked against the status.
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "consecutive_failures >= 3",
	// "hours_since_success > 24", "last_error == authentication".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScanInterval:      DefaultScanInterval,
			BaseURL:           DefaultBaseURL,
			LogLevel:          DefaultLogLevel,
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
			Auth:              AuthConfig{Mode: "none", Header: DefaultAuthHeader},
			Storage:           StorageConfig{Backend: "memory", Path: DefaultStoragePath},
			Alerts:            AlertsConfig{EvaluateInterval: DefaultAlertsInterval},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Username == "" {
		return fmt.Errorf("agent.username is required")
	}
	if a.Password == "" && a.PasswordEnv == "" {
		return fmt.Errorf("agent.password or agent.password_env is required")
	}
	if a.ScanInterval <= 0 {
		return fmt.Errorf("agent.scan_interval must be a positive number of minutes")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("agent.base_url %q is not an absolute URL", a.BaseURL)
	}
	if a.HTTPPort <= 0 || a.HTTPPort > 65535 {
		return fmt.Errorf("agent.http_port %d out of range", a.HTTPPort)
	}
	if a.BroadcastInterval <= 0 {
		return fmt.Errorf("agent.broadcast_interval must be positive")
	}
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", a.LogLevel)
	}
	switch a.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.auth: unknown mode %q", a.Auth.Mode)
	}
	switch a.Storage.Backend {
	case "memory", "":
	case "sqlite":
		if a.Storage.Path == "" {
			return fmt.Errorf("agent.storage.path is required for sqlite backend")
		}
	default:
		return fmt.Errorf("agent.storage: unknown backend %q", a.Storage.Backend)
	}
	if a.Alerts.EvaluateInterval <= 0 {
		return fmt.Errorf("agent.alerts.evaluate_interval must be positive")
	}
	return nil
}

// RequiresRebuild reports whether moving from old to updated changes anything
// the polling coordinator was constructed with. Log level and broadcast
// cadence apply live and do not count.
func RequiresRebuild(old, updated AgentConfig) bool {
	return old.Username != updated.Username ||
		old.Secret() != updated.Secret() ||
		old.ScanInterval != updated.ScanInterval ||
		old.BaseURL != updated.BaseURL ||
		old.TLS != updated.TLS ||
		old.Storage != updated.Storage
}
