package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/metrics"
)

type listener struct {
	id int
	fn func(*AppConfig)
}

// Loader reads a YAML config file, watches it for changes and notifies subscribers.
// A new document replaces the current one only after it passes validation.
type Loader struct {
	path     string
	logger   *slog.Logger
	reloadMu sync.Mutex // serializes Reload from read to notify
	mu       sync.RWMutex
	current  *AppConfig
	subs     []listener
	nextID   int
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{path: filepath.Clean(path), logger: logger}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the watched file path.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest accepted) configuration.
func (l *Loader) Config() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked with every accepted reload.
// The returned function removes the callback.
func (l *Loader) OnChange(fn func(*AppConfig)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, listener{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// The parent directory is watched rather than the file, so saves that replace the
// file by renaming a temporary copy over it keep triggering reloads.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if _, err := l.Reload(); err != nil {
					l.logger.Warn("config reload rejected, keeping previous config", "path", l.path, "op", ev.Op.String(), "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file. On failure the current
// configuration is kept and no listener is called. Concurrent calls run one after
// another, so listeners see accepted documents in the order they were read.
func (l *Loader) Reload() (*AppConfig, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	cfg, err := LoadFile(l.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]listener, len(l.subs))
	copy(callbacks, l.subs)
	l.mu.Unlock()
	for _, s := range callbacks {
		s.fn(cfg)
	}
	return cfg, nil
}

// LoadFile reads, validates and defaults the document at path.
func LoadFile(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document, validates it and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTaskTimeoutMs = 15000

func applyDefaults(cfg *AppConfig) {
	if cfg.Spotify.APIBaseURL == "" {
		cfg.Spotify.APIBaseURL = "https://api.spotify.com/v1"
	}
	if cfg.Spotify.RequestTimeoutMs == 0 {
		cfg.Spotify.RequestTimeoutMs = 10000
	}
	if cfg.Dispatch.TaskTimeoutMs == nil {
		ms := defaultTaskTimeoutMs
		cfg.Dispatch.TaskTimeoutMs = &ms
	}
	if cfg.Dispatch.ReadyBacklog == 0 {
		cfg.Dispatch.ReadyBacklog = 50
	}
	if cfg.Telemetry.Buffer == 0 {
		cfg.Telemetry.Buffer = 256
	}
	if cfg.Developer.LoggingLevel == "" {
		cfg.Developer.LoggingLevel = "info"
	}
	if cfg.Compliance.AllowedEvents == nil {
		cfg.Compliance.AllowedEvents = event.AllKeys()
	}
}
