// Package config provides environment-driven configuration for the client
// and the stub backend.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the chat client configuration.
type Config struct {
	// Backend
	BackendURL string `env:"OMNICHAT_BACKEND_URL" envDefault:"http://localhost:5000"`

	// Timeouts. Generation streams are expected to be slow; JSON calls
	// are not.
	RequestTimeout    time.Duration `env:"OMNICHAT_REQUEST_TIMEOUT" envDefault:"30s"`
	ProbeTimeout      time.Duration `env:"OMNICHAT_PROBE_TIMEOUT" envDefault:"5s"`
	StreamTimeout     time.Duration `env:"OMNICHAT_STREAM_TIMEOUT" envDefault:"5m"`
	SwitchTimeout     time.Duration `env:"OMNICHAT_SWITCH_TIMEOUT" envDefault:"5m"`
	UploadTimeout     time.Duration `env:"OMNICHAT_UPLOAD_TIMEOUT" envDefault:"60s"`
	TranscribeTimeout time.Duration `env:"OMNICHAT_TRANSCRIBE_TIMEOUT" envDefault:"2m"`

	// Health polling
	HealthInterval time.Duration `env:"OMNICHAT_HEALTH_INTERVAL" envDefault:"30s"`

	// Logging. The terminal is owned by the UI, so logs go to a file.
	LogFile string `env:"OMNICHAT_LOG_FILE" envDefault:"omnichat.log"`
}

// Load loads the client configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// StubConfig holds the stub backend configuration.
type StubConfig struct {
	Port        int    `env:"OMNISTUB_PORT" envDefault:"5000"`
	DatabaseURL string `env:"OMNISTUB_DB" envDefault:"file:omnistub.db?cache=shared&mode=rwc"`
	UploadDir   string `env:"OMNISTUB_UPLOAD_DIR" envDefault:"uploads"`

	// Pacing for the canned stream, so the client visibly streams.
	TokenDelay  time.Duration `env:"OMNISTUB_TOKEN_DELAY" envDefault:"20ms"`
	SwitchDelay time.Duration `env:"OMNISTUB_SWITCH_DELAY" envDefault:"500ms"`
}

// LoadStub loads the stub backend configuration from environment variables.
func LoadStub() (*StubConfig, error) {
	cfg := &StubConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse stub config: %w", err)
	}
	return cfg, nil
}
