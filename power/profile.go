package power

import "time"

// Mode identifies one of the four duty-cycle operating modes.
type Mode uint8

const (
	// ModePerformance is the full duty cycle used when charging or on a
	// healthy battery in the foreground.
	ModePerformance Mode = iota
	// ModeBalanced trades scan time for battery on mid-level charge.
	ModeBalanced
	// ModePowerSaver runs short, infrequent scans on low battery.
	ModePowerSaver
	// ModeUltraLow keeps only a minimal presence on critical battery or
	// deep background.
	ModeUltraLow
)

// String returns the mode name used in logs and the CLI.
func (m Mode) String() string {
	switch m {
	case ModePerformance:
		return "performance"
	case ModeBalanced:
		return "balanced"
	case ModePowerSaver:
		return "power-saver"
	case ModeUltraLow:
		return "ultra-low"
	default:
		return "unknown"
	}
}

// Profile carries the duty-cycle parameters the router applies: how long to
// scan, how long to pause between scans, how often to advertise, the
// admission limit for concurrent links, and how long outbound messages may
// be aggregated before a radio write.
type Profile struct {
	Mode              Mode
	ScanDuration      time.Duration
	ScanPause         time.Duration
	AdvertiseInterval time.Duration
	MaxConnections    int
	AggregationWindow time.Duration
}

// The four fixed profiles. Values degrade monotonically from performance to
// ultra-low: shorter scans, longer pauses, fewer links, more batching.
var profiles = [...]Profile{
	ModePerformance: {
		Mode:              ModePerformance,
		ScanDuration:      10 * time.Second,
		ScanPause:         2 * time.Second,
		AdvertiseInterval: 1 * time.Second,
		MaxConnections:    8,
		AggregationWindow: 100 * time.Millisecond,
	},
	ModeBalanced: {
		Mode:              ModeBalanced,
		ScanDuration:      5 * time.Second,
		ScanPause:         10 * time.Second,
		AdvertiseInterval: 3 * time.Second,
		MaxConnections:    4,
		AggregationWindow: 500 * time.Millisecond,
	},
	ModePowerSaver: {
		Mode:              ModePowerSaver,
		ScanDuration:      2 * time.Second,
		ScanPause:         30 * time.Second,
		AdvertiseInterval: 10 * time.Second,
		MaxConnections:    2,
		AggregationWindow: 2 * time.Second,
	},
	ModeUltraLow: {
		Mode:              ModeUltraLow,
		ScanDuration:      1 * time.Second,
		ScanPause:         2 * time.Minute,
		AdvertiseInterval: 30 * time.Second,
		MaxConnections:    1,
		AggregationWindow: 10 * time.Second,
	},
}

// ProfileFor returns the fixed parameter set for a mode.
func ProfileFor(mode Mode) Profile {
	if int(mode) >= len(profiles) {
		return profiles[ModeUltraLow]
	}
	return profiles[mode]
}

// Select maps battery level (0..1), charging state and background state to a
// profile. Charging always runs full duty; in the foreground the profile
// follows battery thresholds; in the background each threshold degrades one
// step further.
func Select(batteryLevel float64, charging, background bool) Profile {
	if charging {
		return profiles[ModePerformance]
	}

	if background {
		switch {
		case batteryLevel > 0.6:
			return profiles[ModeBalanced]
		case batteryLevel > 0.3:
			return profiles[ModePowerSaver]
		default:
			return profiles[ModeUltraLow]
		}
	}

	switch {
	case batteryLevel > 0.6:
		return profiles[ModePerformance]
	case batteryLevel > 0.3:
		return profiles[ModeBalanced]
	case batteryLevel > 0.1:
		return profiles[ModePowerSaver]
	default:
		return profiles[ModeUltraLow]
	}
}

// Provider supplies the currently active profile. The router re-reads it on
// change notifications rather than polling; implementations must be safe for
// concurrent use.
type Provider interface {
	Current() Profile
}

// StaticProvider is a fixed-profile Provider for tests and the CLI demo.
type StaticProvider struct {
	Profile Profile
}

// Current returns the configured profile.
func (p *StaticProvider) Current() Profile {
	return p.Profile
}
