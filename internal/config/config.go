// Package config loads daemon settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	BackendFile      = "file"
	BackendEncrypted = "encrypted"
)

// Config holds all appguard configuration.
// Groups are embedded so every variable is read as APPGUARD_<TAG>.
type Config struct {
	Daemon
	Monitor
	Interstitial
	Store
	Logging
	Metrics
}

// Daemon holds poll loop and supervision timing.
type Daemon struct {
	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	DebounceWindow       time.Duration `envconfig:"DEBOUNCE_WINDOW" default:"2s"`
	WakeLease            time.Duration `envconfig:"WAKE_LEASE" default:"10m"`
	HeartbeatInterval    time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	PartnerCheckInterval time.Duration `envconfig:"PARTNER_CHECK_INTERVAL" default:"30s"`
}

// Monitor holds foreground monitor settings.
type Monitor struct {
	QueryWindow time.Duration `envconfig:"QUERY_WINDOW" default:"2s"`
	SelfID      string        `envconfig:"SELF_ID" default:"com.focusd.appguard"`
	// ExtraExcluded are additional target ids never reported as foreground.
	ExtraExcluded []string `envconfig:"EXCLUDED_TARGETS"`
}

// Interstitial holds interrupt surface settings.
type Interstitial struct {
	Timeout time.Duration `envconfig:"INTERSTITIAL_TIMEOUT" default:"1500ms"`
}

// Store selects and locates the rule store.
type Store struct {
	Backend string `envconfig:"STORE_BACKEND" default:"file"`
	DataDir string `envconfig:"DATA_DIR"`
}

// Logging holds logging configuration.
type Logging struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:"/var/tmp/appguard.log"`
}

// Metrics holds the optional Prometheus listener address. Empty disables it.
type Metrics struct {
	Addr string `envconfig:"METRICS_ADDR"`
}

// Load reads APPGUARD_* environment variables on top of Default.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("appguard", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when the environment sets nothing.
func Default() *Config {
	return &Config{
		Daemon: Daemon{
			PollInterval:         500 * time.Millisecond,
			DebounceWindow:       2 * time.Second,
			WakeLease:            10 * time.Minute,
			HeartbeatInterval:    30 * time.Second,
			PartnerCheckInterval: 30 * time.Second,
		},
		Monitor: Monitor{
			QueryWindow: 2 * time.Second,
			SelfID:      "com.focusd.appguard",
		},
		Interstitial: Interstitial{
			Timeout: 1500 * time.Millisecond,
		},
		Store: Store{
			Backend: BackendFile,
			DataDir: DefaultDataDir(),
		},
		Logging: Logging{
			Level: "info",
			File:  "/var/tmp/appguard.log",
		},
	}
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"POLL_INTERVAL":          c.Daemon.PollInterval,
		"DEBOUNCE_WINDOW":        c.Daemon.DebounceWindow,
		"WAKE_LEASE":             c.Daemon.WakeLease,
		"HEARTBEAT_INTERVAL":     c.Daemon.HeartbeatInterval,
		"PARTNER_CHECK_INTERVAL": c.Daemon.PartnerCheckInterval,
		"QUERY_WINDOW":           c.Monitor.QueryWindow,
		"INTERSTITIAL_TIMEOUT":   c.Interstitial.Timeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("APPGUARD_%s must be positive, got %s", name, d)
		}
	}

	switch c.Store.Backend {
	case BackendFile, BackendEncrypted:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// DefaultDataDir returns ~/.appguard, or /var/lib/appguard when running as root.
func DefaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/appguard"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".appguard")
}
