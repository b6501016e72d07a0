package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshwire/limits"
	"github.com/opd-ai/meshwire/power"
)

// Config is the on-disk meshwire configuration.
type Config struct {
	Identity IdentityConfig `toml:"identity"`
	Network  NetworkConfig  `toml:"network"`
	Power    PowerConfig    `toml:"power"`
	Logging  LoggingConfig  `toml:"logging"`
}

// IdentityConfig locates the encrypted keystore.
type IdentityConfig struct {
	// KeystoreDir holds the encrypted identity files. Empty means the
	// daemon's default under the user home directory.
	KeystoreDir string `toml:"keystore_dir"`
}

// NetworkConfig carries mesh-facing settings.
type NetworkConfig struct {
	// DeviceName is advertised to nearby peers during discovery.
	DeviceName string `toml:"device_name"`

	// ChannelSecret, when set, gates announces: outbound announces carry a
	// membership proof derived from it and inbound announces without a
	// valid proof are dropped.
	ChannelSecret string `toml:"channel_secret"`

	// Favorites lists peer IDs whose undeliverable messages are retained in
	// the long store-and-forward tier.
	Favorites []string `toml:"favorites"`
}

// PowerConfig selects the duty-cycle profile.
type PowerConfig struct {
	Mode string `toml:"mode"`
}

// LoggingConfig controls the logrus setup.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			DeviceName: "meshwire",
		},
		Power: PowerConfig{
			Mode: power.ModeBalanced.String(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"key":      key.String(),
		}).Warn("Unknown configuration key ignored")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values without touching the filesystem.
func (c Config) Validate() error {
	if _, err := ParseMode(c.Power.Mode); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	for _, id := range c.Network.Favorites {
		if err := limits.ValidatePeerID(id); err != nil {
			return fmt.Errorf("favorite %q: %w", id, err)
		}
	}
	return nil
}

// Profile resolves the configured power mode to its duty-cycle profile.
func (c Config) Profile() power.Profile {
	mode, err := ParseMode(c.Power.Mode)
	if err != nil {
		return power.ProfileFor(power.ModeBalanced)
	}
	return power.ProfileFor(mode)
}

// ApplyLogging configures the process-wide logrus logger.
func (c Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{})
	}
	return nil
}

// ParseMode maps a configuration string to a power mode. Hyphens are
// optional, so "power-saver" and "powersaver" name the same mode.
func ParseMode(s string) (power.Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "") {
	case "performance":
		return power.ModePerformance, nil
	case "balanced":
		return power.ModeBalanced, nil
	case "powersaver":
		return power.ModePowerSaver, nil
	case "ultralow":
		return power.ModeUltraLow, nil
	default:
		return 0, fmt.Errorf("unknown power mode %q", s)
	}
}
