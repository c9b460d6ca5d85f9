// Package normalize maps host telemetry onto canonical event keys.
package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/metrics"
)

// Normalize maps one raw telemetry record to a canonical event.
// It returns false for unrecognized names and for payloads that fail to parse;
// the latter are logged and otherwise treated like unknown events.
func Normalize(raw event.Raw) (event.Normalized, bool) {
	ev, ok, err := normalize(raw)
	if err != nil {
		slog.Warn("failed to normalize telemetry event", "name", raw.Name, "data", raw.Data, "err", err)
		metrics.EventsUnrecognized.Inc()
		return event.Normalized{}, false
	}
	if !ok {
		metrics.EventsUnrecognized.Inc()
		return ev, false
	}
	metrics.EventsNormalized.WithLabelValues(string(ev.Key)).Inc()
	return ev, true
}

func normalize(raw event.Raw) (event.Normalized, bool, error) {
	ts := raw.Time()
	keyed := func(k event.Key) event.Normalized {
		return event.Normalized{Key: k, Timestamp: ts}
	}

	switch raw.Name {
	case "match_start", "round_start":
		return keyed(event.RoundStart), true, nil

	case "match_end", "match_outcome":
		p, err := parsePayload(raw.Data)
		if err != nil {
			return event.Normalized{}, false, err
		}
		switch str(p["result"]) {
		case "victory":
			return keyed(event.MatchVictory), true, nil
		case "defeat":
			return keyed(event.MatchDefeat), true, nil
		default:
			return keyed(event.MatchDraw), true, nil
		}

	case "kill":
		p, err := parsePayload(raw.Data)
		if err != nil {
			return event.Normalized{}, false, err
		}
		if str(p["headshot"]) == "1" {
			return keyed(event.Headshot), true, nil
		}
		if kills := intField(p, "multiKills"); kills > 1 {
			ev := keyed(event.Multikill)
			ev.Payload = map[string]any{"count": kills}
			return ev, true, nil
		}
		return keyed(event.Death), true, nil

	case "death":
		return keyed(event.Death), true, nil
	case "bomb_planted":
		return keyed(event.SpikePlanted), true, nil
	case "bomb_defused":
		return keyed(event.SpikeDefused), true, nil
	case "bomb_exploded":
		return keyed(event.SpikeDetonated), true, nil
	}
	return event.Normalized{}, false, nil
}

// FromInfo derives events that only appear in info snapshots. They carry now as
// their timestamp because the snapshot has none of its own.
func FromInfo(info event.Info, now time.Time) []event.Normalized {
	switch str(info["round_outcome"]) {
	case "win":
		return []event.Normalized{{Key: event.RoundEndWin, Timestamp: now}}
	case "loss":
		return []event.Normalized{{Key: event.RoundEndLoss, Timestamp: now}}
	}
	return nil
}

// parsePayload decodes data as JSON. Only an object contributes fields; any other
// valid JSON value reads as an empty payload.
func parsePayload(data string) (map[string]any, error) {
	if strings.TrimSpace(data) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	p, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return p, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// intField reads an integer that the host may send as a number or a numeric string.
// Missing or non-numeric values read as zero.
func intField(p map[string]any, name string) int {
	switch v := p[name].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
