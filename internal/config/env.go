package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Credentials holds the playback service tokens. Acquiring them (the OAuth flow)
// happens outside this program; they arrive through the environment.
type Credentials struct {
	AccessToken  string `env:"SPOTIFY_ACCESS_TOKEN"`
	RefreshToken string `env:"SPOTIFY_REFRESH_TOKEN"`
	ClientID     string `env:"SPOTIFY_CLIENT_ID"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadCredentials reads Credentials from the environment.
func LoadCredentials() (Credentials, error) {
	var c Credentials
	if err := ParseEnv(&c); err != nil {
		return Credentials{}, err
	}
	return c, nil
}
