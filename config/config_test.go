package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshwire/power"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshwire.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[network]
device_name = "field-radio"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "field-radio", cfg.Network.DeviceName)
	assert.Equal(t, "balanced", cfg.Power.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[identity]
keystore_dir = "/var/lib/meshwire/keys"

[network]
device_name = "base-station"
channel_secret = "s3cret"
favorites = ["0123456789abcdef"]

[power]
mode = "ultra-low"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/meshwire/keys", cfg.Identity.KeystoreDir)
	assert.Equal(t, "s3cret", cfg.Network.ChannelSecret)
	assert.Equal(t, []string{"0123456789abcdef"}, cfg.Network.Favorites)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, power.ProfileFor(power.ModeUltraLow), cfg.Profile())
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, `
[power]
mode = "turbo"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadFavorite(t *testing.T) {
	path := writeConfig(t, `
[network]
favorites = ["not hex"]
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]power.Mode{
		"performance": power.ModePerformance,
		"Balanced":    power.ModeBalanced,
		"power-saver": power.ModePowerSaver,
		"powersaver":  power.ModePowerSaver,
		"ultra-low":   power.ModeUltraLow,
	} {
		mode, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
	}

	_, err := ParseMode("idle")
	assert.Error(t, err)
}
