package core

import (
	"fmt"
	"strings"
	"time"
)

type RunDefaults struct {
	ProviderID      string `koanf:"provider_id" mapstructure:"provider_id"`
	Model           string `koanf:"model" mapstructure:"model"`
	ProxyEndpoint   string `koanf:"proxy_endpoint" mapstructure:"proxy_endpoint"`
	Concurrency     int    `koanf:"concurrency" mapstructure:"concurrency"`
	MaxRetries      int    `koanf:"max_retries" mapstructure:"max_retries"`
	EnablePaidProbe bool   `koanf:"enable_paid_probe" mapstructure:"enable_paid_probe"`
}

type RetryConfig struct {
	BaseDelayMs int `koanf:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	JitterMs    int `koanf:"jitter_ms" mapstructure:"jitter_ms"`
}

type HTTPConfig struct {
	RequestTimeoutMs     int   `koanf:"request_timeout_ms" mapstructure:"request_timeout_ms"`
	MaxResponseBodyBytes int64 `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
}

type LogConfig struct {
	MaxStringLength int `koanf:"max_string_length" mapstructure:"max_string_length"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type SupervisorConfig struct {
	RunTimeoutMs       int `koanf:"run_timeout_ms" mapstructure:"run_timeout_ms"`
	HandshakeTimeoutMs int `koanf:"handshake_timeout_ms" mapstructure:"handshake_timeout_ms"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Run         RunDefaults      `koanf:"run" mapstructure:"run"`
	Retry       RetryConfig      `koanf:"retry" mapstructure:"retry"`
	HTTP        HTTPConfig       `koanf:"http" mapstructure:"http"`
	Log         LogConfig        `koanf:"log" mapstructure:"log"`
	Store       StoreConfig      `koanf:"store" mapstructure:"store"`
	Supervisor  SupervisorConfig `koanf:"supervisor" mapstructure:"supervisor"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "keyprobe",
		Run: RunDefaults{
			ProviderID:  "openai",
			Concurrency: 10,
			MaxRetries:  2,
		},
		Retry: RetryConfig{
			BaseDelayMs: 1000,
			MaxDelayMs:  5000,
			JitterMs:    1000,
		},
		HTTP: HTTPConfig{
			RequestTimeoutMs:     30000,
			MaxResponseBodyBytes: 1 << 20,
		},
		Log: LogConfig{
			MaxStringLength: 2000,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Supervisor: SupervisorConfig{
			RunTimeoutMs:       30 * 60 * 1000,
			HandshakeTimeoutMs: 5000,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("core: run.concurrency must be at least 1")
	}
	if c.Run.MaxRetries < 0 {
		return fmt.Errorf("core: run.max_retries must not be negative")
	}
	if c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < 0 || c.Retry.JitterMs < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("core: retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	if c.HTTP.RequestTimeoutMs < 0 || c.HTTP.MaxResponseBodyBytes < 0 {
		return fmt.Errorf("core: http limits must not be negative")
	}
	switch strings.TrimSpace(strings.ToLower(c.Store.Driver)) {
	case "", "memory", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: unsupported store.driver %q", c.Store.Driver)
	}
	return nil
}

// RunConfig builds the run configuration implied by the run defaults.
func (c Config) RunConfig() RunConfig {
	return RunConfig{
		ProviderID:        c.Run.ProviderID,
		Model:             c.Run.Model,
		ProxyEndpoint:     c.Run.ProxyEndpoint,
		ConcurrencyBudget: c.Run.Concurrency,
		MaxRetries:        c.Run.MaxRetries,
		EnablePaidProbe:   c.Run.EnablePaidProbe,
	}.Normalized()
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutMs) * time.Millisecond
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Supervisor.RunTimeoutMs) * time.Millisecond
}

func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Supervisor.HandshakeTimeoutMs) * time.Millisecond
}
