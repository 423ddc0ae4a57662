// Package config provides YAML-based configuration loading for admitdesk.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zulandar/admitdesk/internal/scoring"
	"gopkg.in/yaml.v3"
)

// Config is the top-level admitdesk configuration, loaded from admitdesk.yaml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Actions     ActionsConfig     `yaml:"actions"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Notify      NotifyConfig      `yaml:"notify"`
	Log         LogConfig         `yaml:"log"`
}

// DatabaseConfig selects the gorm driver and its connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file, or ":memory:"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SessionConfig controls conversation session expiry and history windows.
type SessionConfig struct {
	TTL          Duration `yaml:"ttl"`
	HistoryLimit int      `yaml:"history_limit"`
	PromptWindow int      `yaml:"prompt_window"`
}

// ScoringConfig overrides priority formula weights. Zero values keep the
// scoring package defaults.
type ScoringConfig struct {
	ImpactWeight       float64            `yaml:"impact_weight"`
	UrgencyWeight      float64            `yaml:"urgency_weight"`
	FreshnessWeight    float64            `yaml:"freshness_weight"`
	NeutralImpact      float64            `yaml:"neutral_impact"`
	DecayDays          float64            `yaml:"decay_days"`
	UrgencyMultipliers map[string]float64 `yaml:"urgency_multipliers"`
	TriageLimit        int                `yaml:"triage_limit"`
}

// GeneratorConfig selects the content generator backing plan generation and
// completion feedback.
type GeneratorConfig struct {
	Provider   string   `yaml:"provider"` // anthropic, openai, ollama, none
	Model      string   `yaml:"model"`
	APIKey     string   `yaml:"api_key"`
	ServerURL  string   `yaml:"server_url"` // ollama only
	Timeout    Duration `yaml:"timeout"`
	PlanTTL    Duration `yaml:"plan_ttl"`
	MaxTargets int      `yaml:"max_targets"`
}

// ActionsConfig tunes the action lifecycle.
type ActionsConfig struct {
	FeedbackTimeout Duration `yaml:"feedback_timeout"`
	Timezone        string   `yaml:"timezone"`
}

// MaintenanceConfig holds cron expressions for background jobs.
type MaintenanceConfig struct {
	SessionSweepCron string `yaml:"session_sweep_cron"`
	ActionPurgeCron  string `yaml:"action_purge_cron"`
	DigestCron       string `yaml:"digest_cron"`
	DigestEnabled    bool   `yaml:"digest_enabled"`
}

// NotifyConfig configures the staff notification channel.
type NotifyConfig struct {
	Platform string `yaml:"platform"` // "", "slack", "discord"
	Token    string `yaml:"token"`
	Channel  string `yaml:"channel"`
}

// LogConfig configures the slog handlers.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Duration is a time.Duration that unmarshals from strings like "2h" or "2500ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first (if present) so
// ${VAR} references in the YAML can resolve secrets.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "admitdesk.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "admitdesk"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Session.TTL.Duration == 0 {
		c.Session.TTL.Duration = 2 * time.Hour
	}
	if c.Session.HistoryLimit == 0 {
		c.Session.HistoryLimit = 10
	}
	if c.Session.PromptWindow == 0 {
		c.Session.PromptWindow = 6
	}
	if c.Scoring.TriageLimit == 0 {
		c.Scoring.TriageLimit = 5
	}
	if c.Generator.Provider == "" {
		c.Generator.Provider = "none"
	}
	if c.Generator.Timeout.Duration == 0 {
		c.Generator.Timeout.Duration = 2500 * time.Millisecond
	}
	if c.Generator.PlanTTL.Duration == 0 {
		c.Generator.PlanTTL.Duration = 30 * time.Minute
	}
	if c.Generator.MaxTargets == 0 {
		c.Generator.MaxTargets = 5
	}
	if c.Generator.Provider == "ollama" && c.Generator.ServerURL == "" {
		c.Generator.ServerURL = "http://localhost:11434"
	}
	if c.Actions.FeedbackTimeout.Duration == 0 {
		c.Actions.FeedbackTimeout.Duration = c.Generator.Timeout.Duration
	}
	if c.Actions.Timezone == "" {
		c.Actions.Timezone = "Local"
	}
	if c.Maintenance.SessionSweepCron == "" {
		c.Maintenance.SessionSweepCron = "*/10 * * * *"
	}
	if c.Maintenance.ActionPurgeCron == "" {
		c.Maintenance.ActionPurgeCron = "0 0 * * *"
	}
	if c.Maintenance.DigestCron == "" {
		c.Maintenance.DigestCron = "0 8 * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Session.TTL.Duration < 0 {
		errs = append(errs, "session.ttl must be positive")
	}
	if c.Session.PromptWindow > c.Session.HistoryLimit {
		errs = append(errs, "session.prompt_window cannot exceed session.history_limit")
	}
	switch c.Generator.Provider {
	case "none", "ollama":
	case "anthropic", "openai":
		if c.Generator.APIKey == "" {
			errs = append(errs, fmt.Sprintf("generator.api_key is required for provider %q", c.Generator.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("generator.provider %q is not supported (anthropic, openai, ollama, none)", c.Generator.Provider))
	}
	if c.Generator.Provider != "none" && c.Generator.Model == "" {
		errs = append(errs, "generator.model is required")
	}
	if _, err := time.LoadLocation(c.Actions.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("actions.timezone %q: %v", c.Actions.Timezone, err))
	}
	switch c.Notify.Platform {
	case "":
	case "slack", "discord":
		if c.Notify.Token == "" {
			errs = append(errs, "notify.token is required")
		}
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported (slack, discord)", c.Notify.Platform))
	}
	for name, m := range c.Scoring.UrgencyMultipliers {
		if m <= 0 {
			errs = append(errs, fmt.Sprintf("scoring.urgency_multipliers.%s must be positive", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Weights converts the scoring section into scoring.Weights. Unset values
// keep the package defaults.
func (s ScoringConfig) Weights() scoring.Weights {
	return scoring.Weights{
		Impact:             s.ImpactWeight,
		Urgency:            s.UrgencyWeight,
		Freshness:          s.FreshnessWeight,
		NeutralImpact:      s.NeutralImpact,
		DecayDays:          s.DecayDays,
		UrgencyMultipliers: s.UrgencyMultipliers,
	}
}

// Location returns the configured action timezone.
func (a ActionsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
