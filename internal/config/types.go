package config

import "time"

// Config represents the complete relay configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	State    StateConfig    `yaml:"state"`
	Retry    RetryConfig    `yaml:"retry"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version,omitempty"`
	LogLevel        string        `yaml:"log_level"`
	DedupeTTL       time.Duration `yaml:"dedupe_ttl"`
	LogRetention    time.Duration `yaml:"log_retention"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// ServerConfig defines the HTTP listener and the webhook endpoint.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// WebhookPath is the URL path Crypto Pay posts updates to.
	WebhookPath string `yaml:"webhook_path"`

	// Secret is the shared HMAC secret for signature verification.
	// Usually set via ${CRYPTO_PAY_WEBHOOK_SECRET}.
	Secret string `yaml:"secret,omitempty"`

	// SignatureHeader is the HTTP header carrying the HMAC signature.
	SignatureHeader string `yaml:"signature_header"`

	// AllowUnsigned accepts updates without signature verification when no
	// secret is configured. Insecure; for local testing only.
	AllowUnsigned bool `yaml:"allow_unsigned,omitempty"`

	MaxBodySize int64            `yaml:"max_body_size,omitempty"`
	RateLimit   *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig throttles inbound webhook requests per client IP.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// TelegramConfig defines Bot API client settings.
type TelegramConfig struct {
	// BotToken is the Telegram Bot API token. Usually set via
	// ${TELEGRAM_BOT_TOKEN}; never logged.
	BotToken string `yaml:"bot_token"`

	// APIBaseURL overrides the Bot API base URL (tests, local proxies).
	APIBaseURL string `yaml:"api_base_url,omitempty"`

	Timeout time.Duration `yaml:"timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig defines retry behavior for failed deliveries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "crypto-pay-relay",
			LogLevel:        "info",
			DedupeTTL:       24 * time.Hour,
			LogRetention:    30 * 24 * time.Hour,
			JanitorInterval: time.Hour,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8001",
			WebhookPath:     "/webhook/crypto_pay",
			SignatureHeader: "Crypto-Pay-Api-Signature",
			MaxBodySize:     DefaultMaxBodySize,
		},
		Telegram: TelegramConfig{
			Timeout: 5 * time.Second,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BackoffBase: 30 * time.Second,
		},
	}
}

// DefaultMaxBodySize caps webhook request bodies at 1 MB.
const DefaultMaxBodySize = 1048576
