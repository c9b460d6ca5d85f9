// Package telemetry fans game telemetry out to subscribers.
//
// Producers (the HTTP ingestion endpoint, the replay tool) publish raw records;
// consumers read them from per-subscription buffered channels. Publishing never
// blocks the producer.
package telemetry

import (
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/metrics"
)

const defaultBuffer = 256

// Feed is a non-blocking broadcast of raw events and info snapshots.
type Feed struct {
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewFeed creates a feed whose subscriptions buffer up to buffer records per channel.
func NewFeed(buffer int, logger *slog.Logger) *Feed {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{buffer: buffer, logger: logger, subs: make(map[*Subscription]struct{})}
}

// Subscription receives records published after it was created.
type Subscription struct {
	feed   *Feed
	events chan event.Raw
	info   chan event.Info
	once   sync.Once
}

// Subscribe registers a new subscriber. On a closed feed the returned
// subscription's channels are already closed.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{
		feed:   f,
		events: make(chan event.Raw, f.buffer),
		info:   make(chan event.Info, f.buffer),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.once.Do(s.closeChannels)
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// Events delivers raw event records.
func (s *Subscription) Events() <-chan event.Raw { return s.events }

// Info delivers info snapshots.
func (s *Subscription) Info() <-chan event.Info { return s.info }

// Unsubscribe detaches the subscription and closes its channels. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()
	s.once.Do(s.closeChannels)
}

func (s *Subscription) closeChannels() {
	close(s.events)
	close(s.info)
}

// Publish offers raw to every subscriber and returns how many accepted it.
func (f *Feed) Publish(raw event.Raw) int {
	metrics.TelemetryReceived.WithLabelValues("event").Inc()
	f.mu.RLock()
	defer f.mu.RUnlock()
	delivered := 0
	for s := range f.subs {
		select {
		case s.events <- raw:
			delivered++
		default:
			metrics.TelemetryDropped.Inc()
			f.logger.Warn("telemetry subscriber full, event dropped", "name", raw.Name)
		}
	}
	return delivered
}

// PublishInfo offers an info snapshot to every subscriber.
func (f *Feed) PublishInfo(info event.Info) int {
	metrics.TelemetryReceived.WithLabelValues("info").Inc()
	f.mu.RLock()
	defer f.mu.RUnlock()
	delivered := 0
	for s := range f.subs {
		select {
		case s.info <- info:
			delivered++
		default:
			metrics.TelemetryDropped.Inc()
			f.logger.Warn("telemetry subscriber full, info dropped")
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close detaches and closes every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*Subscription]struct{})
	f.closed = true
	f.mu.Unlock()
	for s := range subs {
		s.once.Do(s.closeChannels)
	}
}
