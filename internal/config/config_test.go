package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                         8080,
		StoreBackend:                 StoreBackendPostgres,
		DatabaseURL:                  "postgres://localhost/test",
		IdentityJWTSecret:            strings.Repeat("k", 40),
		StoreTimeoutSeconds:          5,
		DefaultSessionTimeoutMinutes: 30,
		ReauthThresholdMinutes:       5,
		ReauthMaxTokenAgeSeconds:     300,
		SweepIntervalSeconds:         60,
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("durations convert from integer settings", func(t *testing.T) {
		cfg := validConfig()
		assert.Equal(t, 5*time.Second, cfg.StoreTimeout())
		assert.Equal(t, 5*time.Minute, cfg.ReauthThreshold())
		assert.Equal(t, 300*time.Second, cfg.ReauthMaxTokenAge())
		assert.Equal(t, time.Minute, cfg.SweepInterval())
	})
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		t.Setenv("IDENTITY_JWT_SECRET", "dev")
		t.Setenv("DATABASE_URL", "postgres://localhost/test")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 30, cfg.DefaultSessionTimeoutMinutes)
		assert.Equal(t, 5, cfg.ReauthThresholdMinutes)
		assert.False(t, cfg.SlidingSessionExpiration)
		assert.True(t, cfg.SingleActiveController)
		assert.Equal(t, "openclaw://pair", cfg.PairingLinkBase)
		assert.Equal(t, DefaultRateLimitPerMin, cfg.RateLimitPerMin)
	})

	t.Run("loads custom values", func(t *testing.T) {
		t.Setenv("IDENTITY_JWT_SECRET", "dev")
		t.Setenv("STORE_BACKEND", "memory")
		t.Setenv("PORT", "3000")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("SLIDING_SESSION_EXPIRATION", "true")
		t.Setenv("SINGLE_ACTIVE_CONTROLLER", "false")
		t.Setenv("DEFAULT_SESSION_TIMEOUT_MINUTES", "45")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.True(t, cfg.SlidingSessionExpiration)
		assert.False(t, cfg.SingleActiveController)
		assert.Equal(t, 45, cfg.DefaultSessionTimeoutMinutes)
	})

	t.Run("fails without identity secret", func(t *testing.T) {
		t.Setenv("IDENTITY_JWT_SECRET", "")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate(true))
	})

	t.Run("postgres backend needs DATABASE_URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseURL = ""
		assert.ErrorContains(t, cfg.Validate(false), "DATABASE_URL")
	})

	t.Run("memory backend needs no database", func(t *testing.T) {
		cfg := validConfig()
		cfg.StoreBackend = StoreBackendMemory
		cfg.DatabaseURL = ""
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects unknown backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.StoreBackend = "sqlite"
		assert.ErrorContains(t, cfg.Validate(false), "STORE_BACKEND")
	})

	t.Run("rejects session timeout out of range", func(t *testing.T) {
		for _, minutes := range []int{0, 1441} {
			cfg := validConfig()
			cfg.DefaultSessionTimeoutMinutes = minutes
			assert.Error(t, cfg.Validate(false), "minutes=%d", minutes)
		}
	})

	t.Run("rejects weak secret in production", func(t *testing.T) {
		cfg := validConfig()
		cfg.IdentityJWTSecret = "secret"
		assert.ErrorContains(t, cfg.Validate(true), "IDENTITY_JWT_SECRET")
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive sweep interval", func(t *testing.T) {
		cfg := validConfig()
		cfg.SweepIntervalSeconds = 0
		assert.Error(t, cfg.Validate(false))
	})
}
