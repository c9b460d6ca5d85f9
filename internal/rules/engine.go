// Package rules decides whether a normalized gameplay event should change playback.
//
// The Engine resolves the effective per-event configuration for the active profile
// and then passes the event through three temporal gates, in order:
//
//	debounce  - drops raw-signal chatter for the same key
//	multikill - accumulates streak counts inside a rolling window
//	cooldown  - enforces spacing between emitted actions for the same key
//
// Gating state is per key and lives only as long as the Engine; building a new
// Engine starts from a clean slate while UpdateOptions keeps it.
package rules

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/metrics"
)

// ErrMissingConfiguration is matched by errors for an absent event config or profile.
var ErrMissingConfiguration = errors.New("missing configuration")

// MissingConfigError names the piece of configuration an evaluation could not find.
type MissingConfigError struct {
	Key       event.Key
	ProfileID string
	Profile   bool // true when the active profile is missing, false for the event config
}

func (e *MissingConfigError) Error() string {
	if e.Profile {
		return fmt.Sprintf("active profile %q missing", e.ProfileID)
	}
	return fmt.Sprintf("event config %q missing", e.Key)
}

// Is implements errors.Is support.
func (e *MissingConfigError) Is(target error) bool {
	return target == ErrMissingConfiguration
}

// ActionType says what the playback URI refers to.
type ActionType string

const (
	PlayPlaylist ActionType = "PLAY_PLAYLIST"
	PlayTrack    ActionType = "PLAY_TRACK"
)

// ActionContext records what produced an action.
type ActionContext struct {
	Event     event.Key `json:"event"`
	Profile   string    `json:"profile"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaybackAction is the engine's decision. It is never modified after Evaluate returns it.
type PlaybackAction struct {
	Type            ActionType             `json:"type"`
	URI             string                 `json:"uri"`
	InterruptPolicy config.InterruptPolicy `json:"interrupt_policy"`
	StingerURI      string                 `json:"stinger_uri,omitempty"`
	Context         ActionContext          `json:"context"`
}

type streak struct {
	count     int
	expiresAt time.Time
}

// Engine evaluates events against a swappable Options snapshot.
type Engine struct {
	opts atomic.Pointer[Options]

	mu        sync.Mutex
	lastSeen  [event.KeyCount]time.Time // debounce
	lastFired [event.KeyCount]time.Time // cooldown
	streaks   [event.KeyCount]streak
}

// New creates an Engine with empty gating state.
func New(opts Options) *Engine {
	e := &Engine{}
	e.opts.Store(&opts)
	return e
}

// UpdateOptions atomically replaces the configuration snapshot. Gating state is kept,
// so open debounce and cooldown windows survive a reload.
func (e *Engine) UpdateOptions(opts Options) {
	e.opts.Store(&opts)
}

// Options returns the current snapshot.
func (e *Engine) Options() Options {
	return *e.opts.Load()
}

// Evaluate runs one event through the gates at instant now. It returns a nil action
// when any gate rejects the event and an error matching ErrMissingConfiguration when
// the event config or the active profile is absent.
func (e *Engine) Evaluate(ev event.Normalized, now time.Time) (*PlaybackAction, error) {
	opts := e.opts.Load()
	idx := ev.Key.Ordinal()
	if idx < 0 {
		return nil, fmt.Errorf("evaluate: unknown event key %q", ev.Key)
	}

	cfg, profile, err := resolve(opts, ev.Key)
	if err != nil {
		metrics.RuleDecisions.WithLabelValues(string(ev.Key), "missing_config").Inc()
		return nil, err
	}
	if !cfg.Enabled {
		metrics.RuleDecisions.WithLabelValues(string(ev.Key), "disabled").Inc()
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.passDebounce(idx, cfg.Debounce, now) {
		metrics.RuleDecisions.WithLabelValues(string(ev.Key), "debounced").Inc()
		return nil, nil
	}
	if ev.Key == event.Multikill && cfg.MultikillWindow > 0 {
		if !e.trackStreak(idx, streakCount(ev.Payload), cfg.MultikillWindow, now) {
			metrics.RuleDecisions.WithLabelValues(string(ev.Key), "streak_pending").Inc()
			return nil, nil
		}
	}
	if !e.passCooldown(idx, cfg.Cooldown, now) {
		metrics.RuleDecisions.WithLabelValues(string(ev.Key), "cooldown").Inc()
		return nil, nil
	}

	action := &PlaybackAction{
		InterruptPolicy: cfg.InterruptPolicy,
		StingerURI:      cfg.StingerURI,
		Context: ActionContext{
			Event:     ev.Key,
			Profile:   profile.Name,
			Timestamp: now,
		},
	}
	switch {
	case len(cfg.TrackURIs) > 0:
		action.Type, action.URI = PlayTrack, cfg.TrackURIs[0]
	case len(cfg.PlaylistURIs) > 0:
		action.Type, action.URI = PlayPlaylist, cfg.PlaylistURIs[0]
	default:
		metrics.RuleDecisions.WithLabelValues(string(ev.Key), "no_uri").Inc()
		return nil, nil
	}
	metrics.RuleDecisions.WithLabelValues(string(ev.Key), "fired").Inc()
	return action, nil
}

// Resolve returns the effective config for key under the active profile.
func (e *Engine) Resolve(key event.Key) (EventConfig, error) {
	cfg, _, err := resolve(e.opts.Load(), key)
	return cfg, err
}

func resolve(opts *Options, key event.Key) (EventConfig, ProfileConfig, error) {
	base, ok := opts.Events[key]
	if !ok {
		return EventConfig{}, ProfileConfig{}, &MissingConfigError{Key: key, ProfileID: opts.ActiveProfileID}
	}
	profile, ok := opts.Profiles[opts.ActiveProfileID]
	if !ok {
		return EventConfig{}, ProfileConfig{}, &MissingConfigError{Key: key, ProfileID: opts.ActiveProfileID, Profile: true}
	}
	if ov, ok := profile.Overrides[key]; ok {
		return ov.Merge(base), profile, nil
	}
	return base, profile, nil
}

// passDebounce records now as last-seen unless the key was seen less than d ago.
// A key that was never seen always passes.
func (e *Engine) passDebounce(idx int, d time.Duration, now time.Time) bool {
	last := e.lastSeen[idx]
	if !last.IsZero() && now.Sub(last) < d {
		return false
	}
	e.lastSeen[idx] = now
	return true
}

// passCooldown records now as last-fired unless the key fired less than d ago.
func (e *Engine) passCooldown(idx int, d time.Duration, now time.Time) bool {
	last := e.lastFired[idx]
	if !last.IsZero() && now.Sub(last) < d {
		return false
	}
	e.lastFired[idx] = now
	return true
}

// trackStreak adds count to the key's bucket, resetting it first if its window has
// passed, and reports whether the streak reached two.
func (e *Engine) trackStreak(idx, count int, window time.Duration, now time.Time) bool {
	b := &e.streaks[idx]
	if now.After(b.expiresAt) {
		b.count = 0
	}
	b.count += count
	b.expiresAt = now.Add(window)
	return b.count >= 2
}

// streakCount reads payload["count"], defaulting to 1.
func streakCount(payload map[string]any) int {
	switch v := payload["count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 1
}
