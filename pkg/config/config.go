// Package config loads the process configuration snapshot from the
// environment. The snapshot is parsed and validated once at startup and
// passed by value; nothing reads the environment afterwards.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`

	// Shared secret the collector presents in X-DEVICE-KEY.
	DeviceKey string `env:"DEVICE_KEY,required"`
	JWTSecret string `env:"JWT_SECRET,required"`

	LLM        LLMConfig
	Slack      SlackConfig
	SLA        SLAConfig
	Ingest     IngestConfig
	Classifier ClassifierConfig
	Learning   LearningConfig

	// IANA zone used for day windows and the learning schedule.
	Timezone string `env:"TIMEZONE" envDefault:"Asia/Seoul"`

	location *time.Location
}

// LLMConfig holds LLM credentials and model routing.
type LLMConfig struct {
	APIKey          string `env:"LLM_API_KEY"`
	BaseURL         string `env:"LLM_BASE_URL"`
	ModelFast       string `env:"LLM_MODEL_FAST" envDefault:"gpt-4o-mini"`
	ModelEscalation string `env:"LLM_MODEL_ESCALATION" envDefault:"gpt-4o"`
	TimeoutSeconds  int    `env:"LLM_TIMEOUT_SECONDS" envDefault:"30"`
}

// Enabled reports whether LLM-backed components should run.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// RequestTimeout returns the per-request LLM timeout.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SlackConfig holds outbound alerting configuration.
type SlackConfig struct {
	// Empty disables Slack delivery entirely.
	WebhookURL string `env:"SLACK_WEBHOOK_URL"`
}

// SLAConfig holds first-response SLA monitoring parameters.
type SLAConfig struct {
	ThresholdMinutes int `env:"SLA_THRESHOLD_MINUTES" envDefault:"20"`
	TickSeconds      int `env:"SLA_TICK_SECONDS" envDefault:"30"`
}

// Threshold returns the first-response SLA as a duration.
func (c SLAConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdMinutes) * time.Minute
}

// TickInterval returns the monitor tick interval.
func (c SLAConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// IngestConfig holds ingest-path parameters.
type IngestConfig struct {
	DedupWindowSeconds int `env:"DEDUP_WINDOW_SECONDS" envDefault:"10"`
}

// DedupWindow returns the dedup bucket width.
func (c IngestConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// ClassifierConfig holds classifier worker parameters.
type ClassifierConfig struct {
	BatchSize               int     `env:"CLASSIFIER_BATCH_SIZE" envDefault:"16"`
	PollSeconds             int     `env:"CLASSIFIER_POLL_SECONDS" envDefault:"5"`
	MaxAttempts             int     `env:"CLASSIFIER_MAX_ATTEMPTS" envDefault:"3"`
	ContextMessages         int     `env:"CLASSIFIER_CONTEXT_MESSAGES" envDefault:"10"`
	MaxTokensPerRun         int     `env:"CLASSIFIER_MAX_TOKENS_PER_RUN" envDefault:"100000"`
	EscalationMinConfidence float64 `env:"CLASSIFIER_ESCALATION_MIN_CONFIDENCE" envDefault:"0.6"`
	EscalationTextBytes     int     `env:"CLASSIFIER_ESCALATION_TEXT_BYTES" envDefault:"2000"`
}

// PollInterval returns the worker poll interval.
func (c ClassifierConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// LearningConfig holds self-learning job parameters.
type LearningConfig struct {
	// Five-field cron line, evaluated in Config.Timezone.
	ScheduleCron string `env:"LEARNING_SCHEDULE_CRON" envDefault:"0 2 * * 1,4"`
	MaxEvents    int    `env:"LEARNING_MAX_EVENTS" envDefault:"2000"`
	// Corpus lookback in days, used when no prior successful run exists.
	InitialLookbackDays int `env:"LEARNING_INITIAL_LOOKBACK_DAYS" envDefault:"14"`
}

// InitialLookback returns the first-run corpus window.
func (c LearningConfig) InitialLookback() time.Duration {
	return time.Duration(c.InitialLookbackDays) * 24 * time.Hour
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	if c.SLA.ThresholdMinutes <= 0 {
		return fmt.Errorf("SLA_THRESHOLD_MINUTES must be positive")
	}
	if c.SLA.TickSeconds <= 0 {
		return fmt.Errorf("SLA_TICK_SECONDS must be positive")
	}
	if c.Ingest.DedupWindowSeconds <= 0 {
		return fmt.Errorf("DEDUP_WINDOW_SECONDS must be positive")
	}
	if c.Classifier.BatchSize < 1 {
		return fmt.Errorf("CLASSIFIER_BATCH_SIZE must be at least 1")
	}
	if c.Classifier.MaxAttempts < 1 {
		return fmt.Errorf("CLASSIFIER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Classifier.ContextMessages < 0 {
		return fmt.Errorf("CLASSIFIER_CONTEXT_MESSAGES cannot be negative")
	}
	if c.Learning.MaxEvents < 1 {
		return fmt.Errorf("LEARNING_MAX_EVENTS must be at least 1")
	}
	return nil
}

// Location returns the configured display/schedule timezone.
func (c Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	return time.UTC
}
