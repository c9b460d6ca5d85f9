package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/dispatch"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/playback"
	"github.com/gyaneshwarpardhi/gamebeat/internal/telemetry"
)

const testDoc = `
version: "1.0"
spotify:
  playback_mode: remote_device
active_profile: hype
profiles:
  hype:
    name: Hype
    energy_bias: 0.5
    valence_bias: 0
    volume_scale: 0.8
compliance:
  strict_mode: true
  allowed_events: [round_start, round_end_win, headshot, death]
events:
  round_start:
    enabled: true
    playlist_uris: ["spotify:playlist:start"]
    cooldown_ms: 0
    debounce_ms: 0
    interrupt_policy: duck
  round_end_win:
    enabled: true
    playlist_uris: ["spotify:playlist:win"]
    cooldown_ms: 0
    debounce_ms: 0
    interrupt_policy: crossfade
  headshot:
    enabled: false
    playlist_uris: ["spotify:playlist:headshot"]
    cooldown_ms: 0
    debounce_ms: 0
    interrupt_policy: never
  death:
    enabled: true
    playlist_uris: ["spotify:playlist:death"]
    stinger_uri: "spotify:track:sting"
    cooldown_ms: 0
    debounce_ms: 0
    interrupt_policy: immediate
  spike_planted:
    enabled: true
    playlist_uris: ["spotify:playlist:spike"]
    cooldown_ms: 0
    debounce_ms: 0
    interrupt_policy: duck
`

type fakeSource struct {
	mu   sync.Mutex
	cfg  *config.AppConfig
	fns  map[int]func(*config.AppConfig)
	next int
}

func newFakeSource(cfg *config.AppConfig) *fakeSource {
	return &fakeSource{cfg: cfg, fns: make(map[int]func(*config.AppConfig))}
}

func (s *fakeSource) Config() *config.AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *fakeSource) OnChange(fn func(*config.AppConfig)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *fakeSource) set(cfg *config.AppConfig) {
	s.mu.Lock()
	s.cfg = cfg
	fns := make([]func(*config.AppConfig), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
}

func parseDoc(t *testing.T, doc string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

type harness struct {
	orch   *Orchestrator
	source *fakeSource
	feed   *telemetry.Feed
	client *playback.MockClient
	queue  *dispatch.Queue
}

func newHarness(t *testing.T, cfg *config.AppConfig) *harness {
	t.Helper()
	h := &harness{
		source: newFakeSource(cfg),
		feed:   telemetry.NewFeed(16, nil),
		client: playback.NewMockClient(nil),
		queue:  dispatch.New(dispatch.WithTaskTimeout(time.Second)),
	}
	orch, err := New(Deps{Loader: h.source, Feed: h.feed, Client: h.client, Queue: h.queue})
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(func() {
		h.orch.Stop()
		h.queue.Close()
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Start(ctx))
}

func (h *harness) playedURIs() []string {
	var uris []string
	for _, a := range h.client.History() {
		uris = append(uris, a.URI)
	}
	return uris
}

func (h *harness) waitPlayed(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.client.History()) >= n }, 5*time.Second, 5*time.Millisecond)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestStart_EnsuresDeviceAndAppliesVolume(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)

	assert.Equal(t, []int{80}, h.client.Volumes())
	assert.Equal(t, 1, h.feed.Subscribers())
	assert.Error(t, h.orch.Start(context.Background()), "second start")
}

func TestStart_RejectsUnsupportedVersion(t *testing.T) {
	cfg := parseDoc(t, testDoc)
	cfg.Version = "2.0"
	h := newHarness(t, cfg)

	err := h.orch.Start(context.Background())
	assert.ErrorContains(t, err, "unsupported config version")
	assert.Equal(t, 0, h.feed.Subscribers())
}

func TestStart_DeviceFailureIsFatal(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.client.FailNext("ensure_device", playback.ErrDeviceNotReady)

	err := h.orch.Start(context.Background())
	assert.ErrorIs(t, err, playback.ErrDeviceNotReady)
	assert.Empty(t, h.client.Volumes())
}

func TestEvents_FlowToPlayback(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)

	h.feed.Publish(event.Raw{Name: "round_start", Timestamp: 1})
	h.waitPlayed(t, 1)

	// Disabled and non-allow-listed events are skipped; death is processed after them.
	h.feed.Publish(event.Raw{Name: "kill", Data: `{"headshot":"1"}`, Timestamp: 2})
	h.feed.Publish(event.Raw{Name: "bomb_planted", Timestamp: 3})
	h.feed.Publish(event.Raw{Name: "not_a_game_event", Timestamp: 4})
	h.feed.Publish(event.Raw{Name: "death", Timestamp: 5})
	h.waitPlayed(t, 2)

	assert.Equal(t, []string{"spotify:playlist:start", "spotify:playlist:death"}, h.playedURIs())
	assert.Equal(t, []string{"spotify:track:sting"}, h.client.Stingers())

	last := h.client.History()[1]
	assert.Equal(t, event.Death, last.Context.Event)
	assert.Equal(t, "Hype", last.Context.Profile)
	assert.Equal(t, config.InterruptImmediate, last.InterruptPolicy)
}

func TestInfoSnapshots_DeriveRoundEnd(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)

	h.feed.PublishInfo(event.Info{"round_outcome": "pending"})
	h.feed.PublishInfo(event.Info{"round_outcome": "win"})
	h.waitPlayed(t, 1)
	assert.Equal(t, []string{"spotify:playlist:win"}, h.playedURIs())
}

func TestMissingEventConfig_IsLoggedAndSkipped(t *testing.T) {
	// Multikill passes compliance (default allow-list) but has no event config.
	doc := strings.Replace(testDoc, "  allowed_events: [round_start, round_end_win, headshot, death]\n", "", 1)
	h := newHarness(t, parseDoc(t, doc))
	h.start(t)

	h.feed.Publish(event.Raw{Name: "kill", Data: `{"multiKills":3}`, Timestamp: 1})
	h.feed.Publish(event.Raw{Name: "round_start", Timestamp: 2})
	h.waitPlayed(t, 1)
	assert.Equal(t, []string{"spotify:playlist:start"}, h.playedURIs())
}

func TestRateLimitedPlayIsRetried(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)
	h.client.FailNext("play", &dispatch.RateLimitError{RetryAfter: 10 * time.Millisecond})

	h.feed.Publish(event.Raw{Name: "round_start", Timestamp: 1})
	h.waitPlayed(t, 1)
	assert.Equal(t, []string{"spotify:playlist:start"}, h.playedURIs())
}

func TestTerminalDispatchFailureDoesNotStopTheLoop(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)
	h.client.FailNext("play", errors.New("device vanished"))

	h.feed.Publish(event.Raw{Name: "round_start", Timestamp: 1})
	h.feed.Publish(event.Raw{Name: "death", Timestamp: 2})
	h.waitPlayed(t, 1)
	assert.Equal(t, []string{"spotify:playlist:death"}, h.playedURIs())
}

func TestConfigChange_UpdatesRulesAndVolume(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)

	next := strings.Replace(testDoc, "volume_scale: 0.8", "volume_scale: 0.5", 1)
	next = strings.Replace(next, "  round_start:\n    enabled: true", "  round_start:\n    enabled: false", 1)
	h.source.set(parseDoc(t, next))

	require.Eventually(t, func() bool { return len(h.client.Volumes()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{80, 50}, h.client.Volumes())

	h.feed.Publish(event.Raw{Name: "round_start", Timestamp: 1})
	h.feed.Publish(event.Raw{Name: "death", Timestamp: 2})
	h.waitPlayed(t, 1)
	assert.Equal(t, []string{"spotify:playlist:death"}, h.playedURIs())
}

func TestConfigChange_SameVolumeIsNotReapplied(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)

	h.source.set(parseDoc(t, testDoc))
	h.feed.Publish(event.Raw{Name: "round_start", Timestamp: 1})
	h.waitPlayed(t, 1)
	assert.Equal(t, []int{80}, h.client.Volumes())
}

func TestStop_DetachesFromFeedAndConfig(t *testing.T) {
	h := newHarness(t, parseDoc(t, testDoc))
	h.start(t)

	h.orch.Stop()
	h.orch.Stop()

	assert.Equal(t, 0, h.feed.Subscribers())
	assert.Equal(t, 0, h.feed.Publish(event.Raw{Name: "round_start"}))
	assert.Empty(t, h.source.fns)
}
