package core

import (
	"fmt"
	"strings"
)

type CredentialsConfig struct {
	StorageKey          string `koanf:"storage_key" mapstructure:"storage_key"`
	LegacyStorageKey    string `koanf:"legacy_storage_key" mapstructure:"legacy_storage_key"`
	ExpiryBufferSeconds int    `koanf:"expiry_buffer_seconds" mapstructure:"expiry_buffer_seconds"`
}

type RefreshConfig struct {
	PrimaryPath    string `koanf:"primary_path" mapstructure:"primary_path"`
	LegacyPath     string `koanf:"legacy_path" mapstructure:"legacy_path"`
	TimeoutSeconds int    `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type HTTPConfig struct {
	BaseURL        string   `koanf:"base_url" mapstructure:"base_url"`
	ExcludedPaths  []string `koanf:"excluded_paths" mapstructure:"excluded_paths"`
	TimeoutSeconds int      `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type StreamConfig struct {
	URL               string `koanf:"url" mapstructure:"url"`
	MaxAttempts       int    `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs       int    `koanf:"base_delay_ms" mapstructure:"base_delay_ms"`
	FallbackTimeoutMs int    `koanf:"fallback_timeout_ms" mapstructure:"fallback_timeout_ms"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Credentials CredentialsConfig `koanf:"credentials" mapstructure:"credentials"`
	Refresh     RefreshConfig     `koanf:"refresh" mapstructure:"refresh"`
	HTTP        HTTPConfig        `koanf:"http" mapstructure:"http"`
	Stream      StreamConfig      `koanf:"stream" mapstructure:"stream"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "client",
		Credentials: CredentialsConfig{
			StorageKey:          "client.credentials",
			LegacyStorageKey:    "client.token",
			ExpiryBufferSeconds: 30,
		},
		Refresh: RefreshConfig{
			PrimaryPath:    "/api/auth/refresh",
			LegacyPath:     "/auth/refresh",
			TimeoutSeconds: 10,
		},
		HTTP: HTTPConfig{
			ExcludedPaths: []string{
				"/api/auth/refresh",
				"/auth/refresh",
				"/api/auth/login",
				"/api/auth/register",
				"/api/status",
				"/health",
			},
			TimeoutSeconds: 30,
		},
		Stream: StreamConfig{
			MaxAttempts:       5,
			BaseDelayMs:       1000,
			FallbackTimeoutMs: 5000,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Credentials.StorageKey) == "" {
		return fmt.Errorf("core: credentials.storage_key is required")
	}
	if c.Credentials.ExpiryBufferSeconds < 0 {
		return fmt.Errorf("core: credentials.expiry_buffer_seconds must not be negative")
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("core: stream.max_attempts must not be negative")
	}
	if c.Stream.BaseDelayMs < 0 {
		return fmt.Errorf("core: stream.base_delay_ms must not be negative")
	}
	return nil
}
