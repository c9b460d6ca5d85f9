package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
)

// WebPlaybackClient plays through a device created by the Spotify Web Playback SDK
// running in a browser overlay. The overlay reports its device id through
// RegisterDevice once the SDK fires its ready event.
type WebPlaybackClient struct {
	api *webAPI

	mu       sync.RWMutex
	deviceID string
	ready    chan struct{}
	once     sync.Once
}

func newWebPlaybackClient(api *webAPI) *WebPlaybackClient {
	return &WebPlaybackClient{api: api, ready: make(chan struct{})}
}

// RegisterDevice records the SDK device id. Re-registering replaces it.
func (c *WebPlaybackClient) RegisterDevice(id string) error {
	if id == "" {
		return errors.New("register device: empty device id")
	}
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
	c.once.Do(func() { close(c.ready) })
	c.api.logger.Info("web playback device registered", "device_id", id)
	return nil
}

func (c *WebPlaybackClient) device() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// EnsureDevice blocks until a device has been registered or ctx is done.
func (c *WebPlaybackClient) EnsureDevice(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeviceNotReady, ctx.Err())
	}
}

// Play fails fast with ErrDeviceNotReady rather than holding the dispatch queue.
func (c *WebPlaybackClient) Play(ctx context.Context, action rules.PlaybackAction) error {
	id := c.device()
	if id == "" {
		return ErrDeviceNotReady
	}
	return c.api.play(ctx, id, playBody(action))
}

func (c *WebPlaybackClient) QueueStinger(ctx context.Context, uri string) error {
	return c.api.queueStinger(ctx, c.device(), uri)
}

func (c *WebPlaybackClient) SetVolume(ctx context.Context, scale float64) error {
	return c.api.setVolume(ctx, c.device(), scale)
}
