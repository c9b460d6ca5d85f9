package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/playback"
	"github.com/gyaneshwarpardhi/gamebeat/internal/telemetry"
)

const (
	maxBatchSize        = 100
	maxBodyBytes        = 1 << 20
	defaultReadyBacklog = 50
)

// ConfigStore is the part of *config.Loader the API needs.
type ConfigStore interface {
	Config() *config.AppConfig
	Reload() (*config.AppConfig, error)
}

// Backlog reports pending dispatch work. *dispatch.Queue satisfies it.
type Backlog interface {
	Len() int
}

// Deps are the handler's collaborators. Registrar may be nil when the playback
// client does not accept externally reported devices.
type Deps struct {
	Loader       ConfigStore
	Feed         *telemetry.Feed
	Queue        Backlog
	Registrar    playback.DeviceRegistrar
	ReadyBacklog int
	Logger       *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(deps Deps) http.Handler {
	if deps.ReadyBacklog <= 0 {
		deps.ReadyBacklog = defaultReadyBacklog
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/telemetry/events", h.ingestEvents)
	h.mux.HandleFunc("POST /v1/telemetry/info", h.ingestInfo)
	h.mux.HandleFunc("POST /v1/playback/device", h.registerDevice)
	h.mux.HandleFunc("GET /v1/config", h.showConfig)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(deps.Logger, h.mux)
}

type eventsRequest struct {
	Events []event.Raw `json:"events"`
}

// POST /v1/telemetry/events: publish up to 100 raw records to the feed.
func (h *Handler) ingestEvents(w http.ResponseWriter, r *http.Request) {
	var req eventsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events must contain at least one record")
		return
	}
	if len(req.Events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(req.Events), maxBatchSize))
		return
	}
	for i, ev := range req.Events {
		if ev.Name == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("events[%d]: name is required", i))
			return
		}
	}

	delivered := 0
	for _, ev := range req.Events {
		if h.deps.Feed.Publish(ev) > 0 {
			delivered++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    uuid.NewString(),
		"total":     len(req.Events),
		"delivered": delivered,
	})
}

type infoRequest struct {
	Info event.Info `json:"info"`
}

// POST /v1/telemetry/info: publish one info snapshot.
func (h *Handler) ingestInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Info == nil {
		writeError(w, http.StatusBadRequest, "info is required")
		return
	}
	delivered := h.deps.Feed.PublishInfo(req.Info)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    uuid.NewString(),
		"delivered": delivered > 0,
	})
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

// POST /v1/playback/device: the browser overlay reports its Web Playback SDK device.
func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registrar == nil {
		writeError(w, http.StatusConflict, "playback client does not accept device registration")
		return
	}
	var req deviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.deps.Registrar.RegisterDevice(req.DeviceID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventView struct {
	Key      event.Key `json:"key"`
	Enabled  bool      `json:"enabled"`
	Admitted bool      `json:"admitted"`
}

// GET /v1/config: active profile and per-event switches.
func (h *Handler) showConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Loader.Config()
	events := make([]eventView, 0, len(cfg.Events))
	for key, ev := range cfg.Events {
		ok, _ := cfg.Admits(key)
		events = append(events, eventView{Key: key, Enabled: ev.Enabled, Admitted: ok})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Key.Ordinal() < events[j].Key.Ordinal() })

	profiles := make([]string, 0, len(cfg.Profiles))
	for id := range cfg.Profiles {
		profiles = append(profiles, id)
	}
	sort.Strings(profiles)

	writeJSON(w, http.StatusOK, map[string]any{
		"version":        cfg.Version,
		"active_profile": cfg.ActiveProfile,
		"profiles":       profiles,
		"playback_mode":  cfg.Spotify.PlaybackMode,
		"strict_mode":    cfg.Compliance.Strict(),
		"events":         events,
	})
}

// POST /v1/config/reload: re-read the config file; listeners re-seat the engine.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.Loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":       true,
		"active_profile": cfg.ActiveProfile,
		"events_count":   len(cfg.Events),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 while the dispatch backlog is above the threshold.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	backlog := h.deps.Queue.Len()
	if backlog > h.deps.ReadyBacklog {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":           "overloaded",
			"dispatch_backlog": backlog,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"dispatch_backlog": backlog,
	})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}
