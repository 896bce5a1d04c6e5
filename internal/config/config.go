package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	HTTPListenAddr string  `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
	CORSOrigins    string  `envconfig:"CORS_ORIGINS"` // Comma-separated; empty allows none

	// Store
	DBPath string `envconfig:"DB_PATH" default:"specforge.db"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"specforge"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// Orchestrator
	GenerationTimeout   time.Duration `envconfig:"GENERATION_TIMEOUT" default:"90s"`
	ContextExcerptLimit int           `envconfig:"CONTEXT_EXCERPT_LIMIT" default:"2000"`
	OrchestratorWorkers int           `envconfig:"ORCHESTRATOR_WORKERS" default:"4"`
	OrchestratorQueue   int           `envconfig:"ORCHESTRATOR_QUEUE_SIZE" default:"100"`
	TierTablePath       string        `envconfig:"TIER_TABLE_PATH"` // YAML override of the tier table

	// Generation backend: "chat" (OpenAI-compatible) or "anthropic"
	LLMProvider     string `envconfig:"LLM_PROVIDER" default:"chat"`
	LLMBaseURL      string `envconfig:"LLM_BASE_URL"`
	LLMAPIKey       string `envconfig:"LLM_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// Change-approved notifications (all optional)
	WebhookURL     string        `envconfig:"WEBHOOK_URL"`
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookRetries int           `envconfig:"WEBHOOK_RETRIES" default:"3"`
	SlackBotToken  string        `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel   string        `envconfig:"SLACK_CHANNEL"`
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// WebhookEnabled returns true if a webhook URL is configured.
func (c *Config) WebhookEnabled() bool {
	return c.WebhookURL != ""
}

// CORSOriginList returns the parsed list of allowed origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch strings.ToLower(c.LLMProvider) {
	case "chat":
		if c.LLMBaseURL == "" {
			errs = append(errs, errors.New("LLM_BASE_URL is required for the chat provider"))
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	if c.ContextExcerptLimit <= 0 {
		errs = append(errs, errors.New("CONTEXT_EXCERPT_LIMIT must be positive"))
	}
	if c.SlackBotToken != "" && c.SlackChannel == "" {
		errs = append(errs, errors.New("SLACK_CHANNEL is required when SLACK_BOT_TOKEN is set"))
	}
	return errors.Join(errs...)
}

// Load reads configuration from environment variables, after loading any
// .env files given (default ".env"). Missing files are skipped and
// variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}
