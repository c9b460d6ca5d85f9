// Package playback drives a music player through the Spotify Web API.
//
// Every Client method performs one remote call and reports throttling as a
// *dispatch.RateLimitError, so callers are expected to run them through a
// dispatch.Queue rather than directly.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
)

// ErrDeviceNotReady is returned when no playback device is available yet.
var ErrDeviceNotReady = errors.New("playback device not ready")

// Client controls a single playback device.
type Client interface {
	EnsureDevice(ctx context.Context) error
	Play(ctx context.Context, action rules.PlaybackAction) error
	QueueStinger(ctx context.Context, uri string) error
	SetVolume(ctx context.Context, scale float64) error
}

// DeviceRegistrar is implemented by clients whose device id is reported from outside,
// such as a browser running the Web Playback SDK.
type DeviceRegistrar interface {
	RegisterDevice(id string) error
}

// Mode selects a Client implementation.
type Mode string

const (
	ModeRemoteDevice Mode = Mode(config.PlaybackRemoteDevice)
	ModeWebSDK       Mode = Mode(config.PlaybackWebSDK)
	ModeMock         Mode = "mock"
)

// ModeFor picks the mode a document asks for; developer mock mode wins.
func ModeFor(cfg *config.AppConfig) Mode {
	if cfg.Developer.MockMode {
		return ModeMock
	}
	return Mode(cfg.Spotify.PlaybackMode)
}

// Options configures the Web API clients. Token is required for every mode but mock.
type Options struct {
	BaseURL           string
	Token             string
	PreferredDeviceID string
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// OptionsFor derives client options from a document and credentials.
func OptionsFor(cfg *config.AppConfig, creds config.Credentials, logger *slog.Logger) Options {
	return Options{
		BaseURL:           cfg.Spotify.APIBaseURL,
		Token:             creds.AccessToken,
		PreferredDeviceID: cfg.Spotify.PreferredDeviceID,
		Timeout:           time.Duration(cfg.Spotify.RequestTimeoutMs) * time.Millisecond,
		Logger:            logger,
	}
}

// New builds the Client for mode.
func New(mode Mode, opts Options) (Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch mode {
	case ModeMock:
		return NewMockClient(opts.Logger), nil
	case ModeRemoteDevice, ModeWebSDK:
	default:
		return nil, fmt.Errorf("unknown playback mode %q", mode)
	}
	if opts.Token == "" {
		return nil, errors.New("missing Spotify access token: set SPOTIFY_ACCESS_TOKEN or enable developer.mock_mode")
	}
	api := newWebAPI(opts)
	if mode == ModeWebSDK {
		return newWebPlaybackClient(api), nil
	}
	return newConnectClient(api, opts.PreferredDeviceID), nil
}

// VolumePercent converts a 0..1 scale to a whole percentage, clamping out-of-range input.
func VolumePercent(scale float64) int {
	return int(math.Round(math.Min(math.Max(scale*100, 0), 100)))
}

// playBody is the request body for starting playback of an action.
func playBody(action rules.PlaybackAction) map[string]any {
	if action.Type == rules.PlayTrack {
		return map[string]any{"uris": []string{action.URI}}
	}
	return map[string]any{"context_uri": action.URI}
}
