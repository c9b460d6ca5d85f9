package playback

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
)

// Device is one entry of GET /me/player/devices.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	IsActive     bool   `json:"is_active"`
	IsRestricted bool   `json:"is_restricted"`
}

// ConnectClient controls an existing Spotify Connect device such as the desktop app.
type ConnectClient struct {
	api *webAPI

	mu       sync.RWMutex
	deviceID string
}

// newConnectClient returns a client that prefers preferredID when it is available.
func newConnectClient(api *webAPI, preferredID string) *ConnectClient {
	return &ConnectClient{api: api, deviceID: preferredID}
}

// DeviceID returns the device playback is currently directed at.
func (c *ConnectClient) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// EnsureDevice picks the preferred device, or the first unrestricted one, and
// transfers playback to it when it is not already active.
func (c *ConnectClient) EnsureDevice(ctx context.Context) error {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.api.do(ctx, http.MethodGet, "/me/player/devices", nil, nil, &resp); err != nil {
		return err
	}
	if len(resp.Devices) == 0 {
		return errors.Join(ErrDeviceNotReady, errors.New("no Spotify Connect devices available"))
	}

	target := selectDevice(resp.Devices, c.DeviceID())
	if target == nil {
		return errors.Join(ErrDeviceNotReady, errors.New("no controllable Spotify device found"))
	}

	c.mu.Lock()
	c.deviceID = target.ID
	c.mu.Unlock()
	c.api.logger.Info("playback device selected", "device_id", target.ID, "name", target.Name, "active", target.IsActive)

	if target.IsActive {
		return nil
	}
	body := map[string]any{"device_ids": []string{target.ID}, "play": false}
	return c.api.do(ctx, http.MethodPut, "/me/player", nil, body, nil)
}

func selectDevice(devices []Device, preferred string) *Device {
	if preferred != "" {
		for i := range devices {
			if devices[i].ID == preferred {
				return &devices[i]
			}
		}
	}
	for i := range devices {
		if !devices[i].IsRestricted {
			return &devices[i]
		}
	}
	return nil
}

func (c *ConnectClient) Play(ctx context.Context, action rules.PlaybackAction) error {
	return c.api.play(ctx, c.DeviceID(), playBody(action))
}

func (c *ConnectClient) QueueStinger(ctx context.Context, uri string) error {
	return c.api.queueStinger(ctx, c.DeviceID(), uri)
}

func (c *ConnectClient) SetVolume(ctx context.Context, scale float64) error {
	return c.api.setVolume(ctx, c.DeviceID(), scale)
}
