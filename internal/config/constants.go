package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute

	DBConnectAttempts = 5
	DBConnectBackoff  = 500 * time.Millisecond
	DBConnectTimeout  = 30 * time.Second

	TxRetryAttempts = 3
	TxRetryBackoff  = 20 * time.Millisecond
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 35 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Admin session timeout bounds, in minutes
const (
	MinSessionTimeoutMinutes = 1
	MaxSessionTimeoutMinutes = 1440
)

// Pairing code limits
const (
	MaxCodeExpirationHours = 168
	MaxCodeUses            = 10
	MaxPendingCodes        = 5
	CodeGenerationAttempts = 10
	DefaultCodeExpiryHours = 24
)

// Pairing rate limits
const (
	CodeGenerationLimit  = 10
	CodeGenerationWindow = time.Hour
	RedemptionLimit      = 20
	RedemptionWindow     = 10 * time.Minute
	ValidationLimit      = 30
	ValidationWindow     = time.Minute
)

// Default rate limiting
const DefaultRateLimitPerMin = 60
