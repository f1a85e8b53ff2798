package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. ${ENV_VAR} references in
// the file are expanded before parsing, so secrets stay out of the YAML.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $CRYPTO_RELAY_CONFIG, ~/.config/crypto-pay-relay/config.yaml,
// /etc/crypto-pay-relay/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("CRYPTO_RELAY_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "crypto-pay-relay", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/crypto-pay-relay/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	legacyConfig := "./config.yaml"
	if _, err := os.Stat(legacyConfig); err == nil {
		return legacyConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $CRYPTO_RELAY_CONFIG, ~/.config/crypto-pay-relay, /etc/crypto-pay-relay, ./config.yaml)")
}

// expandEnvVars replaces ${VAR} references with environment values.
// A reference to an unset variable is an error rather than a silent empty
// string, so a missing TELEGRAM_BOT_TOKEN fails at startup.
func expandEnvVars(content string) (string, error) {
	var missing []string

	expanded := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("config references unset environment variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// applyDefaults fills zero values that yaml.Unmarshal may have cleared when
// a section was present but a key omitted.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.DedupeTTL <= 0 {
		cfg.Service.DedupeTTL = d.Service.DedupeTTL
	}
	if cfg.Service.LogRetention <= 0 {
		cfg.Service.LogRetention = d.Service.LogRetention
	}
	if cfg.Service.JanitorInterval <= 0 {
		cfg.Service.JanitorInterval = d.Service.JanitorInterval
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = d.Server.Listen
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = d.Server.WebhookPath
	}
	if cfg.Server.SignatureHeader == "" {
		cfg.Server.SignatureHeader = d.Server.SignatureHeader
	}
	if cfg.Server.MaxBodySize <= 0 {
		cfg.Server.MaxBodySize = d.Server.MaxBodySize
	}
	if cfg.Telegram.Timeout <= 0 {
		cfg.Telegram.Timeout = d.Telegram.Timeout
	}
	if cfg.State.Path == "" {
		cfg.State.Path = d.State.Path
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if cfg.Retry.BackoffBase <= 0 {
		cfg.Retry.BackoffBase = d.Retry.BackoffBase
	}
}

// validate checks the configuration for errors that would prevent startup.
func validate(cfg *Config) error {
	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required (set TELEGRAM_BOT_TOKEN and reference it as ${TELEGRAM_BOT_TOKEN})")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with '/': %q", cfg.Server.WebhookPath)
	}
	if cfg.Server.Secret == "" && !cfg.Server.AllowUnsigned {
		return fmt.Errorf("server.secret is required unless server.allow_unsigned is set (insecure)")
	}
	if rl := cfg.Server.RateLimit; rl != nil {
		if rl.Requests <= 0 {
			return fmt.Errorf("server.rate_limit.requests must be positive")
		}
		if rl.Window <= 0 {
			return fmt.Errorf("server.rate_limit.window must be positive")
		}
	}
	return nil
}
