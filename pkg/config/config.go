// Package config loads service configuration from the environment with an
// optional YAML overlay merged over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved service configuration.
type Config struct {
	HTTPPort string `yaml:"http_port"`

	LLM       *LLMConfig       `yaml:"llm"`
	Flow      *FlowConfig      `yaml:"flow"`
	Retention *RetentionConfig `yaml:"retention"`

	// StorePath is the SQLite database file used when DatabaseURL is empty.
	StorePath string `yaml:"store_path"`
	// DatabaseURL selects the PostgreSQL store when set.
	DatabaseURL string `yaml:"database_url"`

	// Roles maps role ID → specification. Built-in roles may be overridden
	// per-field from the YAML overlay.
	Roles map[string]*RoleSpec `yaml:"roles"`
}

// LLMConfig configures the gateway and its provider.
type LLMConfig struct {
	Provider      string `yaml:"provider"` // "anthropic", "openai", "mock"
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"-"`
	Model         string `yaml:"model"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// FlowConfig bounds the orchestrator.
type FlowConfig struct {
	// MaxSessions is the per-process cap of live sessions; Start returns
	// Busy above it.
	MaxSessions int `yaml:"max_sessions"`
	// MaxAgentsPerSession caps concurrently running tasks within a session.
	MaxAgentsPerSession int `yaml:"max_agents_per_session"`

	// Clarification budget.
	MaxRounds         int `yaml:"max_rounds"`
	QuestionsPerRound int `yaml:"questions_per_round"`
	MaxHighPriority   int `yaml:"max_high_priority"`

	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// CancelGrace is how long in-flight tasks get to wind up after a
	// session is cancelled before being marked interrupted.
	CancelGrace time.Duration `yaml:"cancel_grace"`
	// ProgressInterval rate-limits per-task progress events.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// RetentionConfig controls the purge loop.
type RetentionConfig struct {
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTPPort:  "8080",
		StorePath: "./data/specsmith.db",
		LLM: &LLMConfig{
			Provider:      "anthropic",
			MaxConcurrent: 3,
		},
		Flow: &FlowConfig{
			MaxSessions:         100,
			MaxAgentsPerSession: 3,
			MaxRounds:           8,
			QuestionsPerRound:   5,
			MaxHighPriority:     3,
			IdleTimeout:         30 * time.Minute,
			StaleThreshold:      15 * time.Minute,
			CancelGrace:         5 * time.Second,
			ProgressInterval:    200 * time.Millisecond,
		},
		Retention: &RetentionConfig{
			SessionTTL:      7 * 24 * time.Hour,
			CleanupInterval: 1 * time.Hour,
		},
		Roles: BuiltinRoles(),
	}
}

// Load resolves the configuration: defaults, then the optional YAML overlay
// (CONFIG_FILE), then environment variables. Environment wins.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		overlay, err := loadYAML(path)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
			return nil, &Error{Field: "config_file", Reason: err.Error()}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Field: "config_file", Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, &Error{Field: "config_file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return &overlay, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	n, ok, err := envInt("MAX_CONCURRENT_LLM")
	if err != nil {
		return err
	}
	if ok {
		cfg.LLM.MaxConcurrent = n
	}
	if n, ok, err = envInt("MAX_SESSIONS"); err != nil {
		return err
	} else if ok {
		cfg.Flow.MaxSessions = n
	}
	if n, ok, err = envInt("IDLE_TIMEOUT_SECONDS"); err != nil {
		return err
	} else if ok {
		cfg.Flow.IdleTimeout = time.Duration(n) * time.Second
	}
	return nil
}

// envInt reads an integer environment variable. A set but malformed value is
// a configuration error, not a silent fallback to the default.
func envInt(key string) (int, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, &Error{Field: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, true, nil
}

func (c *Config) validate() error {
	if c.LLM.MaxConcurrent < 1 {
		return &Error{Field: "llm.max_concurrent", Reason: "must be >= 1"}
	}
	if c.Flow.MaxSessions < 1 {
		return &Error{Field: "flow.max_sessions", Reason: "must be >= 1"}
	}
	if c.Flow.MaxAgentsPerSession < 1 {
		return &Error{Field: "flow.max_agents_per_session", Reason: "must be >= 1"}
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "mock":
	default:
		return &Error{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	for id, role := range c.Roles {
		if role.Threshold < 0 || role.Threshold > 1 {
			return &Error{Field: "roles." + id + ".threshold", Reason: "must be within [0,1]"}
		}
	}
	return nil
}

// Error is a configuration validation failure. main maps it to exit code 64.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}
