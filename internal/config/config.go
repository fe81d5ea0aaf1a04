// Package config provides the service configuration model: a YAML
// loader with environment variable substitution, structural
// validation, a runtime key/value store with change notification, and
// an fsnotify-based file watcher for hot reload.
package config

import (
	"fmt"
	"time"
)

// Config is the root service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Security   SecurityConfig   `yaml:"security" json:"security"`
	Health     HealthConfig     `yaml:"health" json:"health"`
	Validation ValidationConfig `yaml:"validation" json:"validation"`
	Providers  []ProviderConfig `yaml:"providers" json:"providers"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// Backend selects the repository: "memory" or "redis".
	Backend string `yaml:"backend" json:"backend"`

	// TTL is the default session lifetime.
	TTL Duration `yaml:"ttl" json:"ttl"`

	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL. Supports
	// secret references (env://, vault://) for the embedded password.
	URL       string `yaml:"url" json:"url"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
	PoolSize  int    `yaml:"poolSize" json:"poolSize"`
}

// SecurityConfig configures the security service.
type SecurityConfig struct {
	RateLimit        float64  `yaml:"rateLimit" json:"rateLimit"`
	RateBurst        int      `yaml:"rateBurst" json:"rateBurst"`
	MaxTimestampSkew Duration `yaml:"maxTimestampSkew" json:"maxTimestampSkew"`
	EncryptionKey    string   `yaml:"encryptionKey" json:"encryptionKey"`
	SuspiciousAgents []string `yaml:"suspiciousAgents" json:"suspiciousAgents"`
	LimiterExpiry    Duration `yaml:"limiterExpiry" json:"limiterExpiry"`
	MinSecretLength  int      `yaml:"minSecretLength" json:"minSecretLength"`
}

// HealthConfig configures provider health monitoring.
type HealthConfig struct {
	CheckInterval      Duration `yaml:"checkInterval" json:"checkInterval"`
	CheckTimeout       Duration `yaml:"checkTimeout" json:"checkTimeout"`
	UnhealthyThreshold int      `yaml:"unhealthyThreshold" json:"unhealthyThreshold"`
}

// ValidationConfig configures the validation engine.
type ValidationConfig struct {
	Timeout  Duration        `yaml:"timeout" json:"timeout"`
	Parallel bool            `yaml:"parallel" json:"parallel"`
	FailFast bool            `yaml:"failFast" json:"failFast"`
	Rules    []CELRuleConfig `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// CELRuleConfig declares one CEL validation rule.
type CELRuleConfig struct {
	Name       string `yaml:"name" json:"name"`
	Priority   int    `yaml:"priority" json:"priority"`
	Expression string `yaml:"expression" json:"expression"`
}

// ProviderConfig declares one authentication provider.
type ProviderConfig struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Priority string `yaml:"priority" json:"priority"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	MaxRetries          int      `yaml:"maxRetries" json:"maxRetries"`
	FailoverEnabled     *bool    `yaml:"failoverEnabled,omitempty" json:"failoverEnabled,omitempty"`
	HealthCheckInterval Duration `yaml:"healthCheckInterval" json:"healthCheckInterval"`

	// Settings is provider-type-specific configuration passed to
	// Configure. String values support secret references.
	Settings map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IsEnabled reports the effective enablement of the provider.
func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Session: SessionConfig{
			Backend: "memory",
			TTL:     Duration(time.Hour),
		},
		Security: SecurityConfig{
			RateLimit:        10,
			RateBurst:        20,
			MaxTimestampSkew: Duration(5 * time.Minute),
			LimiterExpiry:    Duration(10 * time.Minute),
			MinSecretLength:  8,
		},
		Health: HealthConfig{
			CheckInterval:      Duration(30 * time.Second),
			CheckTimeout:       Duration(5 * time.Second),
			UnhealthyThreshold: 3,
		},
		Validation: ValidationConfig{
			Timeout:  Duration(5 * time.Second),
			Parallel: false,
			FailFast: true,
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validSessionBackends = map[string]bool{
	"memory": true, "redis": true,
}

// ValidateConfig checks the configuration for structural errors.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Logging.Level != "" && !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level %q is invalid", cfg.Logging.Level)
	}
	if cfg.Session.Backend != "" && !validSessionBackends[cfg.Session.Backend] {
		return fmt.Errorf("session.backend %q is invalid", cfg.Session.Backend)
	}
	if cfg.Session.Backend == "redis" {
		if cfg.Session.Redis == nil || cfg.Session.Redis.URL == "" {
			return fmt.Errorf("session.redis.url is required for the redis backend")
		}
	}
	if cfg.Health.UnhealthyThreshold < 0 {
		return fmt.Errorf("health.unhealthyThreshold must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if p.Type == "" {
			return fmt.Errorf("provider %s: type is required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}

	ruleSeen := make(map[string]bool, len(cfg.Validation.Rules))
	for i, r := range cfg.Validation.Rules {
		if r.Name == "" {
			return fmt.Errorf("validation.rules[%d].name is required", i)
		}
		if r.Expression == "" {
			return fmt.Errorf("validation rule %s: expression is required", r.Name)
		}
		if ruleSeen[r.Name] {
			return fmt.Errorf("validation rule %s: duplicate name", r.Name)
		}
		ruleSeen[r.Name] = true
	}

	return nil
}
