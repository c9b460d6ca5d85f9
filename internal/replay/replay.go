// Package replay runs recorded telemetry through the rule engine offline.
//
// Input is JSON lines. A line is either a raw event
//
//	{"name":"kill","data":"{\"multiKills\":2}","timestamp":1700000000000}
//
// or an info snapshot
//
//	{"info":{"round_outcome":"win"},"timestamp":1700000005000}
//
// Every line is evaluated at its own timestamp, so a recording replays with the
// same debounce and cooldown decisions it would have produced live.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
	"github.com/gyaneshwarpardhi/gamebeat/internal/normalize"
	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
)

const maxLine = 1 << 20

// Summary counts what a replay saw.
type Summary struct {
	Lines      int `json:"lines"`
	Events     int `json:"events"`
	Skipped    int `json:"skipped"`
	Actions    int `json:"actions"`
	Misconfigs int `json:"misconfigured"`
}

type line struct {
	Name      string     `json:"name"`
	Data      string     `json:"data"`
	Info      event.Info `json:"info"`
	Timestamp int64      `json:"timestamp"`
}

// Run replays r against cfg with a fresh engine and writes one JSON line per
// playback action to w.
func Run(cfg *config.AppConfig, r io.Reader, w io.Writer, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := rules.New(rules.FromConfig(cfg))
	enc := json.NewEncoder(w)

	var sum Summary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		sum.Lines++
		text := sc.Bytes()
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(text, &l); err != nil {
			return sum, fmt.Errorf("line %d: %w", sum.Lines, err)
		}

		var events []event.Normalized
		switch {
		case l.Info != nil:
			events = normalize.FromInfo(l.Info, time.UnixMilli(l.Timestamp))
		case l.Name != "":
			if ev, ok := normalize.Normalize(event.Raw{Name: l.Name, Data: l.Data, Timestamp: l.Timestamp}); ok {
				events = append(events, ev)
			}
		default:
			return sum, fmt.Errorf("line %d: neither name nor info set", sum.Lines)
		}

		for _, ev := range events {
			sum.Events++
			if ok, reason := cfg.Admits(ev.Key); !ok {
				sum.Skipped++
				logger.Debug("event skipped", "line", sum.Lines, "event", ev.Key, "reason", reason)
				continue
			}
			action, err := engine.Evaluate(ev, ev.Timestamp)
			if errors.Is(err, rules.ErrMissingConfiguration) {
				sum.Misconfigs++
				logger.Warn("event not configured", "line", sum.Lines, "err", err)
				continue
			}
			if err != nil {
				return sum, fmt.Errorf("line %d: %w", sum.Lines, err)
			}
			if action == nil {
				continue
			}
			sum.Actions++
			if err := enc.Encode(action); err != nil {
				return sum, fmt.Errorf("write action: %w", err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("read input: %w", err)
	}
	return sum, nil
}
