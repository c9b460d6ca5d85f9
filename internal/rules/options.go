package rules

import (
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
)

// Options is the configuration snapshot the engine evaluates against.
// It is replaced wholesale; nothing mutates a snapshot after it is built.
type Options struct {
	ActiveProfileID string
	Profiles        map[string]ProfileConfig
	Events          map[event.Key]EventConfig
}

// EventConfig is the resolved per-event setting.
type EventConfig struct {
	Enabled         bool
	PlaylistURIs    []string
	TrackURIs       []string
	StingerURI      string
	Cooldown        time.Duration
	Debounce        time.Duration
	InterruptPolicy config.InterruptPolicy
	MultikillWindow time.Duration // zero disables streak accumulation
	MinEnergy       *float64
	MaxEnergy       *float64
	MinValence      *float64
	MaxValence      *float64
}

// EventOverride holds the fields a profile replaces; nil fields fall through.
type EventOverride struct {
	Enabled         *bool
	PlaylistURIs    []string
	TrackURIs       []string
	StingerURI      *string
	Cooldown        *time.Duration
	Debounce        *time.Duration
	InterruptPolicy *config.InterruptPolicy
	MultikillWindow *time.Duration
	MinEnergy       *float64
	MaxEnergy       *float64
	MinValence      *float64
	MaxValence      *float64
}

// ProfileConfig is a named listener profile.
type ProfileConfig struct {
	Name        string
	EnergyBias  float64
	ValenceBias float64
	VolumeScale float64
	Overrides   map[event.Key]EventOverride
}

// Merge layers o on top of base: every set override field wins.
func (o EventOverride) Merge(base EventConfig) EventConfig {
	out := base
	if o.Enabled != nil {
		out.Enabled = *o.Enabled
	}
	if o.PlaylistURIs != nil {
		out.PlaylistURIs = o.PlaylistURIs
	}
	if o.TrackURIs != nil {
		out.TrackURIs = o.TrackURIs
	}
	if o.StingerURI != nil {
		out.StingerURI = *o.StingerURI
	}
	if o.Cooldown != nil {
		out.Cooldown = *o.Cooldown
	}
	if o.Debounce != nil {
		out.Debounce = *o.Debounce
	}
	if o.InterruptPolicy != nil {
		out.InterruptPolicy = *o.InterruptPolicy
	}
	if o.MultikillWindow != nil {
		out.MultikillWindow = *o.MultikillWindow
	}
	if o.MinEnergy != nil {
		out.MinEnergy = o.MinEnergy
	}
	if o.MaxEnergy != nil {
		out.MaxEnergy = o.MaxEnergy
	}
	if o.MinValence != nil {
		out.MinValence = o.MinValence
	}
	if o.MaxValence != nil {
		out.MaxValence = o.MaxValence
	}
	return out
}

// FromConfig builds an Options snapshot from a validated document.
func FromConfig(cfg *config.AppConfig) Options {
	opts := Options{
		ActiveProfileID: cfg.ActiveProfile,
		Profiles:        make(map[string]ProfileConfig, len(cfg.Profiles)),
		Events:          make(map[event.Key]EventConfig, len(cfg.Events)),
	}
	for key, ev := range cfg.Events {
		opts.Events[key] = EventConfig{
			Enabled:         ev.Enabled,
			PlaylistURIs:    cloneStrings(ev.PlaylistURIs),
			TrackURIs:       cloneStrings(ev.TrackURIs),
			StingerURI:      ev.StingerURI,
			Cooldown:        millis(ev.CooldownMs),
			Debounce:        millis(ev.DebounceMs),
			InterruptPolicy: ev.InterruptPolicy,
			MultikillWindow: millis(ev.MultikillWindowMs),
			MinEnergy:       ev.MinEnergy,
			MaxEnergy:       ev.MaxEnergy,
			MinValence:      ev.MinValence,
			MaxValence:      ev.MaxValence,
		}
	}
	for id, p := range cfg.Profiles {
		pc := ProfileConfig{
			Name:        p.Name,
			EnergyBias:  p.EnergyBias,
			ValenceBias: p.ValenceBias,
			VolumeScale: p.VolumeScale,
		}
		if len(p.Overrides) > 0 {
			pc.Overrides = make(map[event.Key]EventOverride, len(p.Overrides))
			for key, ov := range p.Overrides {
				pc.Overrides[key] = EventOverride{
					Enabled:         ov.Enabled,
					PlaylistURIs:    cloneStrings(ov.PlaylistURIs),
					TrackURIs:       cloneStrings(ov.TrackURIs),
					StingerURI:      ov.StingerURI,
					Cooldown:        millisPtr(ov.CooldownMs),
					Debounce:        millisPtr(ov.DebounceMs),
					InterruptPolicy: ov.InterruptPolicy,
					MultikillWindow: millisPtr(ov.MultikillWindowMs),
					MinEnergy:       ov.MinEnergy,
					MaxEnergy:       ov.MaxEnergy,
					MinValence:      ov.MinValence,
					MaxValence:      ov.MaxValence,
				}
			}
		}
		opts.Profiles[id] = pc
	}
	return opts
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func millisPtr(ms *int) *time.Duration {
	if ms == nil {
		return nil
	}
	d := millis(*ms)
	return &d
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
