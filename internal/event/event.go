package event

import (
	"fmt"
	"time"
)

// Key is a canonical gameplay event. The set is closed; Ordinal gives each key a
// dense index so per-key state can live in fixed-size arrays.
type Key string

const (
	RoundStart     Key = "round_start"
	RoundEndWin    Key = "round_end_win"
	RoundEndLoss   Key = "round_end_loss"
	Ace            Key = "ace"
	Clutch         Key = "clutch_1vX"
	Multikill      Key = "multikill"
	Headshot       Key = "headshot"
	Death          Key = "death"
	SpikePlanted   Key = "spike_planted"
	SpikeDefused   Key = "spike_defused"
	SpikeDetonated Key = "spike_detonated"
	MatchVictory   Key = "match_victory"
	MatchDefeat    Key = "match_defeat"
	MatchDraw      Key = "match_draw"
)

// KeyCount is the number of known keys.
const KeyCount = 14

var allKeys = [KeyCount]Key{
	RoundStart,
	RoundEndWin,
	RoundEndLoss,
	Ace,
	Clutch,
	Multikill,
	Headshot,
	Death,
	SpikePlanted,
	SpikeDefused,
	SpikeDetonated,
	MatchVictory,
	MatchDefeat,
	MatchDraw,
}

var ordinals = func() map[Key]int {
	m := make(map[Key]int, KeyCount)
	for i, k := range allKeys {
		m[k] = i
	}
	return m
}()

// AllKeys returns every known key in declaration order.
func AllKeys() []Key {
	out := make([]Key, KeyCount)
	copy(out, allKeys[:])
	return out
}

// ParseKey returns the Key named s.
func ParseKey(s string) (Key, error) {
	k := Key(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event key %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known keys.
func (k Key) Valid() bool {
	_, ok := ordinals[k]
	return ok
}

// Ordinal returns the dense index of k, or -1 for an unknown key.
func (k Key) Ordinal() int {
	if i, ok := ordinals[k]; ok {
		return i
	}
	return -1
}

func (k Key) String() string { return string(k) }

// Raw is one discrete record from the host telemetry feed.
type Raw struct {
	Name      string `json:"name"`
	Data      string `json:"data"`      // serialized JSON payload, may be empty
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Time returns the record timestamp as a time.Time.
func (r Raw) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Info is a periodic info snapshot from the host feed.
type Info map[string]any

// Normalized is the canonical event consumed by the rule engine.
type Normalized struct {
	Key       Key            `json:"key"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
