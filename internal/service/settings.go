package service

import (
	"time"

	"github.com/openclaw/link-server-go/internal/config"
)

// Settings carries the tunables the services read from configuration.
type Settings struct {
	StoreTimeout                 time.Duration
	DefaultSessionTimeoutMinutes int
	ReauthThreshold              time.Duration
	ReauthMaxTokenAge            time.Duration
	SlidingSessionExpiration     bool
	SingleActiveController       bool
	PairingLinkBase              string
}

func DefaultSettings() Settings {
	return Settings{
		StoreTimeout:                 5 * time.Second,
		DefaultSessionTimeoutMinutes: 30,
		ReauthThreshold:              5 * time.Minute,
		ReauthMaxTokenAge:            5 * time.Minute,
		SingleActiveController:       true,
		PairingLinkBase:              "openclaw://pair",
	}
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		StoreTimeout:                 cfg.StoreTimeout(),
		DefaultSessionTimeoutMinutes: cfg.DefaultSessionTimeoutMinutes,
		ReauthThreshold:              cfg.ReauthThreshold(),
		ReauthMaxTokenAge:            cfg.ReauthMaxTokenAge(),
		SlidingSessionExpiration:     cfg.SlidingSessionExpiration,
		SingleActiveController:       cfg.SingleActiveController,
		PairingLinkBase:              cfg.PairingLinkBase,
	}
}
