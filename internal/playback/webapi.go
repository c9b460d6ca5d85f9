package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/dispatch"
)

const (
	defaultBaseURL = "https://api.spotify.com/v1"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4096
)

// APIError is a non-2xx, non-429 Web API response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify %s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("spotify %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

type webAPI struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func newWebAPI(opts Options) *webAPI {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &webAPI{baseURL: base, token: opts.Token, http: hc, logger: opts.Logger}
}

// do sends one request. body, when non-nil, is sent as JSON; out, when non-nil,
// receives the decoded response.
func (w *webAPI) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := w.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("spotify %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &dispatch.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	w.logger.Debug("spotify call", "method", method, "path", path, "status", resp.StatusCode)
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return dispatch.DefaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(h, 64); err == nil {
		if secs <= 0 {
			return dispatch.DefaultRetryAfter
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return dispatch.DefaultRetryAfter
}

// errorMessage extracts {"error":{"message":...}} from a Web API error body.
func errorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": {deviceID}}
}

// queueStinger and setVolume are shared by both Web API clients.

func (w *webAPI) queueStinger(ctx context.Context, deviceID, uri string) error {
	q := url.Values{"uri": {uri}}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	return w.do(ctx, http.MethodPost, "/me/player/queue", q, nil, nil)
}

func (w *webAPI) setVolume(ctx context.Context, deviceID string, scale float64) error {
	q := url.Values{"volume_percent": {strconv.Itoa(VolumePercent(scale))}}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	return w.do(ctx, http.MethodPut, "/me/player/volume", q, nil, nil)
}

func (w *webAPI) play(ctx context.Context, deviceID string, body map[string]any) error {
	return w.do(ctx, http.MethodPut, "/me/player/play", deviceQuery(deviceID), body, nil)
}
