package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gyaneshwarpardhi/gamebeat/internal/event"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// ValidateDocument checks a decoded YAML document against the embedded JSON schema.
func ValidateDocument(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config schema: encode document: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("config schema: decode document: %w", err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// Validate checks the semantic rules the schema cannot express:
//   - Supported version
//   - Active profile present in profiles
//   - Known event keys with at least one playlist URI
//   - Energy/valence bounds ordered min <= max
func Validate(cfg *AppConfig) error {
	if cfg.Version != SupportedVersion {
		return fmt.Errorf("config: unsupported version %q (want %q)", cfg.Version, SupportedVersion)
	}
	var errs []string

	if cfg.ActiveProfile == "" {
		errs = append(errs, "active_profile is required")
	} else if _, ok := cfg.Profiles[cfg.ActiveProfile]; !ok {
		errs = append(errs, fmt.Sprintf("active_profile %q is not defined in profiles", cfg.ActiveProfile))
	}

	for _, key := range sortedKeys(cfg.Events) {
		ev := cfg.Events[key]
		loc := fmt.Sprintf("events.%s", key)
		if !key.Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown event key", loc))
			continue
		}
		if len(ev.PlaylistURIs) == 0 {
			errs = append(errs, fmt.Sprintf("%s: playlist_uris must not be empty", loc))
		}
		errs = append(errs, checkRange(loc, "energy", ev.MinEnergy, ev.MaxEnergy)...)
		errs = append(errs, checkRange(loc, "valence", ev.MinValence, ev.MaxValence)...)
	}

	profileIDs := make([]string, 0, len(cfg.Profiles))
	for id := range cfg.Profiles {
		profileIDs = append(profileIDs, id)
	}
	sort.Strings(profileIDs)
	for _, id := range profileIDs {
		p := cfg.Profiles[id]
		for _, key := range sortedKeys(p.Overrides) {
			ov := p.Overrides[key]
			loc := fmt.Sprintf("profiles.%s.overrides.%s", id, key)
			if !key.Valid() {
				errs = append(errs, fmt.Sprintf("%s: unknown event key", loc))
				continue
			}
			if ov.PlaylistURIs != nil && len(ov.PlaylistURIs) == 0 {
				errs = append(errs, fmt.Sprintf("%s: playlist_uris must not be empty", loc))
			}
			errs = append(errs, checkRange(loc, "energy", ov.MinEnergy, ov.MaxEnergy)...)
			errs = append(errs, checkRange(loc, "valence", ov.MinValence, ov.MaxValence)...)
		}
	}

	for i, k := range cfg.Compliance.AllowedEvents {
		if !k.Valid() {
			errs = append(errs, fmt.Sprintf("compliance.allowed_events[%d]: unknown event key %q", i, k))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkRange(loc, name string, lo, hi *float64) []string {
	if lo != nil && hi != nil && *lo > *hi {
		return []string{fmt.Sprintf("%s: min_%s %.2f exceeds max_%s %.2f", loc, name, *lo, name, *hi)}
	}
	return nil
}

func sortedKeys[V any](m map[event.Key]V) []event.Key {
	keys := make([]event.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
