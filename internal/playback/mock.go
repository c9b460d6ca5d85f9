package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
)

// MockClient records calls instead of talking to Spotify. Used in developer mock
// mode and in tests.
type MockClient struct {
	logger *slog.Logger

	mu       sync.Mutex
	history  []rules.PlaybackAction
	stingers []string
	volumes  []int
	failures map[string][]error
}

func NewMockClient(logger *slog.Logger) *MockClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockClient{logger: logger, failures: make(map[string][]error)}
}

// FailNext makes the next call to op ("ensure_device", "play", "queue_stinger",
// "set_volume") return err. Calls queue up in order.
func (m *MockClient) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *MockClient) takeFailure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.failures[op]
	if len(errs) == 0 {
		return nil
	}
	m.failures[op] = errs[1:]
	return errs[0]
}

func (m *MockClient) EnsureDevice(context.Context) error {
	return m.takeFailure("ensure_device")
}

func (m *MockClient) Play(_ context.Context, action rules.PlaybackAction) error {
	if err := m.takeFailure("play"); err != nil {
		return err
	}
	m.mu.Lock()
	m.history = append(m.history, action)
	m.mu.Unlock()
	m.logger.Info("mock play", "uri", action.URI, "type", action.Type, "event", action.Context.Event, "profile", action.Context.Profile)
	return nil
}

func (m *MockClient) QueueStinger(_ context.Context, uri string) error {
	if err := m.takeFailure("queue_stinger"); err != nil {
		return err
	}
	m.mu.Lock()
	m.stingers = append(m.stingers, uri)
	m.mu.Unlock()
	m.logger.Info("mock stinger", "uri", uri)
	return nil
}

func (m *MockClient) SetVolume(_ context.Context, scale float64) error {
	if err := m.takeFailure("set_volume"); err != nil {
		return err
	}
	pct := VolumePercent(scale)
	m.mu.Lock()
	m.volumes = append(m.volumes, pct)
	m.mu.Unlock()
	m.logger.Info("mock volume", "percent", pct)
	return nil
}

// History returns a copy of every action played so far.
func (m *MockClient) History() []rules.PlaybackAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rules.PlaybackAction(nil), m.history...)
}

// Stingers returns a copy of every queued stinger URI.
func (m *MockClient) Stingers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stingers...)
}

// Volumes returns a copy of every volume percentage set.
func (m *MockClient) Volumes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.volumes...)
}
