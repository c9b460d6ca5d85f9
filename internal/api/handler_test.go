package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/telemetry"
)

const doc = `
version: "1.0"
spotify:
  playback_mode: web_sdk
active_profile: hype
profiles:
  hype:
    name: Hype
    energy_bias: 0.5
    valence_bias: 0
    volume_scale: 0.8
  chill:
    name: Chill
    energy_bias: -0.3
    valence_bias: 0.2
    volume_scale: 0.5
compliance:
  allowed_events: [round_start]
events:
  round_start:
    enabled: true
    playlist_uris: ["spotify:playlist:a"]
    cooldown_ms: 1000
    debounce_ms: 0
    interrupt_policy: duck
  death:
    enabled: false
    playlist_uris: ["spotify:playlist:b"]
    cooldown_ms: 0
    debounce_ms: 0
    interrupt_policy: never
`

type stubStore struct {
	cfg       *config.AppConfig
	reloadErr error
	reloads   int
}

func (s *stubStore) Config() *config.AppConfig { return s.cfg }

func (s *stubStore) Reload() (*config.AppConfig, error) {
	s.reloads++
	if s.reloadErr != nil {
		return nil, s.reloadErr
	}
	return s.cfg, nil
}

type stubBacklog int

func (b stubBacklog) Len() int { return int(b) }

type stubRegistrar struct{ ids []string }

func (r *stubRegistrar) RegisterDevice(id string) error {
	if id == "" {
		return errors.New("empty device id")
	}
	r.ids = append(r.ids, id)
	return nil
}

type fixture struct {
	handler   http.Handler
	store     *stubStore
	feed      *telemetry.Feed
	registrar *stubRegistrar
}

func newFixture(t *testing.T, backlog int, withRegistrar bool) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	f := &fixture{store: &stubStore{cfg: cfg}, feed: telemetry.NewFeed(8, nil)}
	deps := Deps{Loader: f.store, Feed: f.feed, Queue: stubBacklog(backlog), ReadyBacklog: 5}
	if withRegistrar {
		f.registrar = &stubRegistrar{}
		deps.Registrar = f.registrar
	}
	f.handler = New(deps)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestEvents_PublishesToFeed(t *testing.T) {
	f := newFixture(t, 0, false)
	sub := f.feed.Subscribe()
	defer sub.Unsubscribe()

	rec := f.do(http.MethodPost, "/v1/telemetry/events",
		`{"events":[{"name":"round_start","timestamp":10},{"name":"kill","data":"{\"headshot\":\"1\"}","timestamp":20}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["delivered"])

	assert.Equal(t, event.Raw{Name: "round_start", Timestamp: 10}, <-sub.Events())
	assert.Equal(t, "kill", (<-sub.Events()).Name)
}

func TestIngestEvents_Rejects(t *testing.T) {
	f := newFixture(t, 0, false)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{"events":`, "invalid JSON"},
		{"empty", `{"events":[]}`, "at least one"},
		{"unnamed", `{"events":[{"timestamp":1}]}`, "events[0]: name is required"},
		{"unknown field", `{"evts":[]}`, "invalid JSON"},
		{"too many", `{"events":[` + strings.TrimSuffix(strings.Repeat(`{"name":"death"},`, 101), ",") + `]}`, "exceeds max 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/telemetry/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
}

func TestIngestInfo(t *testing.T) {
	f := newFixture(t, 0, false)
	sub := f.feed.Subscribe()
	defer sub.Unsubscribe()

	rec := f.do(http.MethodPost, "/v1/telemetry/info", `{"info":{"round_outcome":"win"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode(t, rec)["delivered"])
	assert.Equal(t, event.Info{"round_outcome": "win"}, <-sub.Info())

	rec = f.do(http.MethodPost, "/v1/telemetry/info", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t, 0, true)

	rec := f.do(http.MethodPost, "/v1/playback/device", `{"device_id":"sdk-1"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sdk-1"}, f.registrar.ids)

	rec = f.do(http.MethodPost, "/v1/playback/device", `{"device_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noReg := newFixture(t, 0, false)
	rec = noReg.do(http.MethodPost, "/v1/playback/device", `{"device_id":"sdk-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestShowConfig(t *testing.T) {
	f := newFixture(t, 0, false)

	rec := f.do(http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	assert.Equal(t, "hype", body["active_profile"])
	assert.Equal(t, []any{"chill", "hype"}, body["profiles"])
	assert.Equal(t, "web_sdk", body["playback_mode"])
	assert.Equal(t, true, body["strict_mode"])

	events := body["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "round_start", first["key"])
	assert.Equal(t, true, first["admitted"])
	second := events[1].(map[string]any)
	assert.Equal(t, "death", second["key"])
	assert.Equal(t, false, second["enabled"])
	assert.Equal(t, false, second["admitted"])
}

func TestReloadConfig(t *testing.T) {
	f := newFixture(t, 0, false)

	rec := f.do(http.MethodPost, "/v1/config/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["reloaded"])

	f.store.reloadErr = errors.New("config validation errors:\n  - bad")
	rec = f.do(http.MethodPost, "/v1/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "bad")
	assert.Equal(t, 2, f.store.reloads)
}

func TestProbes(t *testing.T) {
	ok := newFixture(t, 3, false)
	assert.Equal(t, http.StatusOK, ok.do(http.MethodGet, "/healthz", "").Code)
	rec := ok.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["dispatch_backlog"])

	busy := newFixture(t, 6, false)
	rec = busy.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "overloaded", decode(t, rec)["status"])
	assert.Equal(t, http.StatusOK, busy.do(http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0, false)
	f.do(http.MethodGet, "/healthz", "")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gamebeat_http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, 0, false)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/v1/telemetry/events", "").Code)
}
