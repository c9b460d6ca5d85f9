// Package orchestrator wires telemetry, the rule engine and playback dispatch together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/dispatch"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/metrics"
	"github.com/gyaneshwarpardhi/gamebeat/internal/normalize"
	"github.com/gyaneshwarpardhi/gamebeat/internal/playback"
	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
	"github.com/gyaneshwarpardhi/gamebeat/internal/telemetry"
)

// ConfigSource supplies the current document and change notifications.
// *config.Loader satisfies it.
type ConfigSource interface {
	Config() *config.AppConfig
	OnChange(fn func(*config.AppConfig)) (cancel func())
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Loader ConfigSource
	Feed   *telemetry.Feed
	Client playback.Client
	Queue  *dispatch.Queue
	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator owns the rule engine and routes its decisions to the dispatch queue.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	engine *rules.Engine
	cfg    atomic.Pointer[config.AppConfig]

	mu        sync.Mutex
	started   bool
	sub       *telemetry.Subscription
	cancelCfg func()
	stopped   chan struct{}
	loop      sync.WaitGroup
}

// New validates deps and returns an idle Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Loader == nil:
		return nil, errors.New("orchestrator: config source is required")
	case deps.Feed == nil:
		return nil, errors.New("orchestrator: telemetry feed is required")
	case deps.Client == nil:
		return nil, errors.New("orchestrator: playback client is required")
	case deps.Queue == nil:
		return nil, errors.New("orchestrator: dispatch queue is required")
	}
	o := &Orchestrator{deps: deps, logger: deps.Logger, now: deps.Now}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Start loads the current config, prepares the playback device and begins
// consuming telemetry. It returns once the device is ready and the volume applied.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}

	cfg := o.deps.Loader.Config()
	if cfg == nil {
		return errors.New("orchestrator: no configuration loaded")
	}
	if cfg.Version != config.SupportedVersion {
		return fmt.Errorf("unsupported config version %q", cfg.Version)
	}
	o.cfg.Store(cfg)
	o.engine = rules.New(rules.FromConfig(cfg))

	if _, err := o.deps.Queue.Enqueue("ensure_device", o.deps.Client.EnsureDevice).Wait(ctx); err != nil {
		return fmt.Errorf("ensure playback device: %w", err)
	}
	if p, ok := cfg.Profiles[cfg.ActiveProfile]; ok {
		if _, err := o.setVolume(p.VolumeScale).Wait(ctx); err != nil {
			return fmt.Errorf("set initial volume: %w", err)
		}
	}

	o.stopped = make(chan struct{})
	o.sub = o.deps.Feed.Subscribe()
	o.cancelCfg = o.deps.Loader.OnChange(o.onConfigChange)
	o.started = true

	o.loop.Add(1)
	go o.run(o.sub)

	o.logger.Info("orchestrator started", "profile", cfg.ActiveProfile, "events", len(cfg.Events))
	return nil
}

// Stop detaches from config changes and telemetry and waits for the event loop.
// Work already handed to the dispatch queue is left to the queue.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.cancelCfg()
	o.sub.Unsubscribe()
	close(o.stopped)
	o.mu.Unlock()

	o.loop.Wait()
	o.logger.Info("orchestrator stopped")
}

// Engine exposes the rule engine, mainly for inspection.
func (o *Orchestrator) Engine() *rules.Engine {
	return o.engine
}

func (o *Orchestrator) run(sub *telemetry.Subscription) {
	defer o.loop.Done()
	events, infos := sub.Events(), sub.Info()
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				return
			}
			if ev, ok := normalize.Normalize(raw); ok {
				o.handle(ev)
			}
		case info, ok := <-infos:
			if !ok {
				return
			}
			for _, ev := range normalize.FromInfo(info, o.now()) {
				o.handle(ev)
			}
		}
	}
}

func (o *Orchestrator) handle(ev event.Normalized) {
	cfg := o.cfg.Load()
	key := string(ev.Key)

	if ok, reason := cfg.Admits(ev.Key); !ok {
		metrics.EventsGated.WithLabelValues(key, reason).Inc()
		o.logger.Debug("event skipped", "event", key, "reason", reason)
		return
	}

	action, err := o.engine.Evaluate(ev, o.now())
	if err != nil {
		o.logger.Error("rule evaluation failed", "event", key, "err", err)
		return
	}
	if action == nil {
		return
	}
	o.dispatch(*action)
}

func (o *Orchestrator) dispatch(action rules.PlaybackAction) {
	id := uuid.NewString()
	o.logger.Info("dispatching playback action",
		"dispatch_id", id,
		"event", action.Context.Event,
		"type", action.Type,
		"uri", action.URI,
		"stinger", action.StingerURI,
	)
	if action.StingerURI != "" {
		uri := action.StingerURI
		o.watch(id, "queue_stinger", o.deps.Queue.Enqueue("queue_stinger", func(ctx context.Context) error {
			return o.deps.Client.QueueStinger(ctx, uri)
		}))
	}
	o.watch(id, "play", o.deps.Queue.Enqueue("play", func(ctx context.Context) error {
		return o.deps.Client.Play(ctx, action)
	}))
}

// watch logs a terminal failure of f without blocking the event loop.
func (o *Orchestrator) watch(id, op string, f *dispatch.Future[struct{}]) {
	go func() {
		select {
		case <-f.Done():
		case <-o.stopped:
			return
		}
		if _, err := f.Wait(context.Background()); err != nil {
			o.logger.Warn("playback dispatch failed", "dispatch_id", id, "operation", op, "err", err)
		}
	}()
}

func (o *Orchestrator) setVolume(scale float64) *dispatch.Future[struct{}] {
	return o.deps.Queue.Enqueue("set_volume", func(ctx context.Context) error {
		return o.deps.Client.SetVolume(ctx, scale)
	})
}

func (o *Orchestrator) onConfigChange(cfg *config.AppConfig) {
	prev := o.cfg.Swap(cfg)
	o.engine.UpdateOptions(rules.FromConfig(cfg))
	metrics.ConfigReloads.WithLabelValues("applied").Inc()
	o.logger.Info("configuration applied", "profile", cfg.ActiveProfile)

	next, ok := cfg.Profiles[cfg.ActiveProfile]
	if !ok {
		return
	}
	if old, had := prev.Profiles[prev.ActiveProfile]; had && old.VolumeScale == next.VolumeScale {
		return
	}
	o.watch(uuid.NewString(), "set_volume", o.setVolume(next.VolumeScale))
}
