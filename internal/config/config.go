package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Valet.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	LLM       LLMConfig       `yaml:"llm"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Confirm   ConfirmConfig   `yaml:"confirm"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig lists the bearer tokens accepted by the HTTP and WebSocket
// surfaces. Each token maps to its own isolated session.
type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
}

// BridgeConfig points at the execution agent that performs device automation.
type BridgeConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type LLMConfig struct {
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// ConfirmConfig controls which tools require explicit user confirmation
// before execution. Patterns support a leading or trailing wildcard.
type ConfirmConfig struct {
	Patterns     []string `yaml:"patterns"`
	ClarifyField string   `yaml:"clarify_field"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment, and fills in defaults. A missing file is not an error when
// path is empty: the daemon can run on environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Auth.Tokens) == 0 {
		if secret := os.Getenv("API_SECRET"); secret != "" {
			cfg.Auth.Tokens = []string{secret}
		}
	}
	if cfg.Bridge.URL == "" {
		cfg.Bridge.URL = os.Getenv("BRIDGE_URL")
	}
	if cfg.Bridge.URL == "" {
		cfg.Bridge.URL = "http://localhost:3000"
	}
	if cfg.Bridge.Token == "" {
		cfg.Bridge.Token = os.Getenv("BRIDGE_AUTH_TOKEN")
	}
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = 30 * time.Second
	}
	if cfg.Bridge.HealthInterval == 0 {
		cfg.Bridge.HealthInterval = 30 * time.Second
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = os.Getenv("VALET_DB_PATH")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "valet.db"
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 60
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if len(cfg.Confirm.Patterns) == 0 {
		cfg.Confirm.Patterns = []string{"send_*", "delete_*"}
	}
	if cfg.Confirm.ClarifyField == "" {
		cfg.Confirm.ClarifyField = "message"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("auth: at least one bearer token is required (set auth.tokens or API_SECRET)")
	}
	for i, tok := range c.Auth.Tokens {
		if tok == "" {
			return fmt.Errorf("auth: token %d is empty", i)
		}
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm: api key is required (set llm.api_key or ANTHROPIC_API_KEY)")
	}
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit: limit must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit: window must be positive")
	}
	return nil
}
