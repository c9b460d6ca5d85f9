package config

import (
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
)

// SupportedVersion is the only document version the loader accepts.
const SupportedVersion = "1.0"

// AppConfig is the top-level YAML structure.
type AppConfig struct {
	Version       string                      `yaml:"version"`
	Spotify       SpotifyConf                 `yaml:"spotify"`
	Dispatch      DispatchConf                `yaml:"dispatch"`
	Telemetry     TelemetryConf               `yaml:"telemetry"`
	Profiles      map[string]Profile          `yaml:"profiles"`
	ActiveProfile string                      `yaml:"active_profile"`
	Events        map[event.Key]EventSettings `yaml:"events"`
	Compliance    ComplianceConf              `yaml:"compliance"`
	Developer     DeveloperConf               `yaml:"developer"`
}

// PlaybackMode selects the playback client variant.
type PlaybackMode string

const (
	PlaybackRemoteDevice PlaybackMode = "remote_device"
	PlaybackWebSDK       PlaybackMode = "web_sdk"
)

// SpotifyConf configures the playback client.
type SpotifyConf struct {
	PlaybackMode      PlaybackMode `yaml:"playback_mode"`
	PreferredDeviceID string       `yaml:"preferred_device_id"`
	APIBaseURL        string       `yaml:"api_base_url"`
	RequestTimeoutMs  int          `yaml:"request_timeout_ms"`

	// Playback hints accepted for document compatibility. The Web API offers no
	// per-request crossfade, ducking or autoplay control, so nothing reads them.
	CrossfadeMs   int     `yaml:"crossfade_ms"`
	DuckingDB     float64 `yaml:"ducking_db"`
	AllowAutoplay bool    `yaml:"allow_autoplay"`
}

// DispatchConf tunes the dispatch queue.
type DispatchConf struct {
	// TaskTimeoutMs bounds each task attempt. Absent means 15s; an explicit 0 disables the bound.
	TaskTimeoutMs *int `yaml:"task_timeout_ms"`
	ReadyBacklog  int  `yaml:"ready_backlog"` // readiness fails above this many pending tasks
}

// TaskTimeout returns the per-task timeout; zero means unbounded.
func (d DispatchConf) TaskTimeout() time.Duration {
	if d.TaskTimeoutMs == nil {
		return 0
	}
	return time.Duration(*d.TaskTimeoutMs) * time.Millisecond
}

// TelemetryConf tunes the telemetry feed.
type TelemetryConf struct {
	Buffer int `yaml:"buffer"`
}

// InterruptPolicy hints how a new playback action treats audio already playing.
type InterruptPolicy string

const (
	InterruptNever     InterruptPolicy = "never"
	InterruptDuck      InterruptPolicy = "duck"
	InterruptCrossfade InterruptPolicy = "crossfade"
	InterruptImmediate InterruptPolicy = "immediate"
)

// EventSettings is the global per-event configuration.
type EventSettings struct {
	Enabled           bool            `yaml:"enabled"`
	PlaylistURIs      []string        `yaml:"playlist_uris"`
	TrackURIs         []string        `yaml:"track_uris,omitempty"`
	StingerURI        string          `yaml:"stinger_uri,omitempty"`
	CooldownMs        int             `yaml:"cooldown_ms"`
	DebounceMs        int             `yaml:"debounce_ms"`
	InterruptPolicy   InterruptPolicy `yaml:"interrupt_policy"`
	MultikillWindowMs int             `yaml:"multikill_window_ms,omitempty"`
	MinEnergy         *float64        `yaml:"min_energy,omitempty"`
	MaxEnergy         *float64        `yaml:"max_energy,omitempty"`
	MinValence        *float64        `yaml:"min_valence,omitempty"`
	MaxValence        *float64        `yaml:"max_valence,omitempty"`
}

// EventOverride is a partial EventSettings layered on by a profile.
// Nil fields fall through to the global settings.
type EventOverride struct {
	Enabled           *bool            `yaml:"enabled,omitempty"`
	PlaylistURIs      []string         `yaml:"playlist_uris,omitempty"`
	TrackURIs         []string         `yaml:"track_uris,omitempty"`
	StingerURI        *string          `yaml:"stinger_uri,omitempty"`
	CooldownMs        *int             `yaml:"cooldown_ms,omitempty"`
	DebounceMs        *int             `yaml:"debounce_ms,omitempty"`
	InterruptPolicy   *InterruptPolicy `yaml:"interrupt_policy,omitempty"`
	MultikillWindowMs *int             `yaml:"multikill_window_ms,omitempty"`
	MinEnergy         *float64         `yaml:"min_energy,omitempty"`
	MaxEnergy         *float64         `yaml:"max_energy,omitempty"`
	MinValence        *float64         `yaml:"min_valence,omitempty"`
	MaxValence        *float64         `yaml:"max_valence,omitempty"`
}

// Profile is a named listener profile.
type Profile struct {
	Name        string                      `yaml:"name"`
	EnergyBias  float64                     `yaml:"energy_bias"`
	ValenceBias float64                     `yaml:"valence_bias"`
	VolumeScale float64                     `yaml:"volume_scale"`
	Overrides   map[event.Key]EventOverride `yaml:"overrides,omitempty"`
}

// ComplianceConf holds the strict-mode event allow-list.
type ComplianceConf struct {
	StrictMode    *bool       `yaml:"strict_mode"` // nil means on
	AllowedEvents []event.Key `yaml:"allowed_events,omitempty"`
}

// Strict reports whether the allow-list gate is active.
func (c ComplianceConf) Strict() bool {
	return c.StrictMode == nil || *c.StrictMode
}

// Allows reports whether k passes the compliance gate.
func (c ComplianceConf) Allows(k event.Key) bool {
	if !c.Strict() {
		return true
	}
	for _, a := range c.AllowedEvents {
		if a == k {
			return true
		}
	}
	return false
}

// Admits applies the pre-evaluation gates: an event whose settings exist but are
// disabled is skipped, then strict mode enforces the allow-list. A rejection comes
// back with a short reason label.
func (c *AppConfig) Admits(k event.Key) (bool, string) {
	if ev, ok := c.Events[k]; ok && !ev.Enabled {
		return false, "disabled"
	}
	if !c.Compliance.Allows(k) {
		return false, "compliance"
	}
	return true, ""
}

// DeveloperConf holds development switches.
type DeveloperConf struct {
	LoggingLevel string `yaml:"logging_level"`
	MockMode     bool   `yaml:"mock_mode"`
}
