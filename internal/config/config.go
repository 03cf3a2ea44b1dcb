package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Port                         int    `env:"PORT" envDefault:"8080"`
	StoreBackend                 string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL                  string `env:"DATABASE_URL"`
	RedisURL                     string `env:"REDIS_URL"`
	IdentityJWTSecret            string `env:"IDENTITY_JWT_SECRET,required,notEmpty"`
	IdentityJWTIssuer            string `env:"IDENTITY_JWT_ISSUER"`
	LogLevel                     string `env:"LOG_LEVEL" envDefault:"info"`
	StoreTimeoutSeconds          int    `env:"STORE_TIMEOUT_SECONDS" envDefault:"5"`
	DefaultSessionTimeoutMinutes int    `env:"DEFAULT_SESSION_TIMEOUT_MINUTES" envDefault:"30"`
	ReauthThresholdMinutes       int    `env:"REAUTH_THRESHOLD_MINUTES" envDefault:"5"`
	ReauthMaxTokenAgeSeconds     int    `env:"REAUTH_MAX_TOKEN_AGE_SECONDS" envDefault:"300"`
	SlidingSessionExpiration     bool   `env:"SLIDING_SESSION_EXPIRATION" envDefault:"false"`
	SingleActiveController       bool   `env:"SINGLE_ACTIVE_CONTROLLER" envDefault:"true"`
	PairingLinkBase              string `env:"PAIRING_LINK_BASE" envDefault:"openclaw://pair"`
	SweepIntervalSeconds         int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	RateLimitPerMin              int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c *Config) ReauthThreshold() time.Duration {
	return time.Duration(c.ReauthThresholdMinutes) * time.Minute
}

func (c *Config) ReauthMaxTokenAge() time.Duration {
	return time.Duration(c.ReauthMaxTokenAgeSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StoreBackendPostgres)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.StoreBackend)
	}

	if c.DefaultSessionTimeoutMinutes < MinSessionTimeoutMinutes || c.DefaultSessionTimeoutMinutes > MaxSessionTimeoutMinutes {
		return fmt.Errorf("DEFAULT_SESSION_TIMEOUT_MINUTES must be between %d and %d", MinSessionTimeoutMinutes, MaxSessionTimeoutMinutes)
	}
	if c.StoreTimeoutSeconds <= 0 {
		return fmt.Errorf("STORE_TIMEOUT_SECONDS must be positive")
	}
	if c.ReauthThresholdMinutes < 0 {
		return fmt.Errorf("REAUTH_THRESHOLD_MINUTES must not be negative")
	}
	if c.ReauthMaxTokenAgeSeconds <= 0 {
		return fmt.Errorf("REAUTH_MAX_TOKEN_AGE_SECONDS must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("IDENTITY_JWT_SECRET", c.IdentityJWTSecret); err != nil {
			return err
		}
		if c.StoreBackend == StoreBackendMemory {
			log.Warn().Msg("STORE_BACKEND=memory in production: pairing state is lost on restart")
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: rate limits are per-instance only")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
