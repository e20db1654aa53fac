package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < config file < runtime overrides. Zero
// values in the config and runtime layers never override a lower layer.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig reads raw values through cfgx and merges runtime overrides on top.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	run := map[string]any{}
	putString(run, "provider_id", cfg.Run.ProviderID, includeZero)
	putString(run, "model", cfg.Run.Model, includeZero)
	putString(run, "proxy_endpoint", cfg.Run.ProxyEndpoint, includeZero)
	putInt(run, "concurrency", cfg.Run.Concurrency, includeZero)
	putInt(run, "max_retries", cfg.Run.MaxRetries, includeZero)
	if includeZero || cfg.Run.EnablePaidProbe {
		run["enable_paid_probe"] = cfg.Run.EnablePaidProbe
	}
	putSection(layer, "run", run)

	retry := map[string]any{}
	putInt(retry, "base_delay_ms", cfg.Retry.BaseDelayMs, includeZero)
	putInt(retry, "max_delay_ms", cfg.Retry.MaxDelayMs, includeZero)
	putInt(retry, "jitter_ms", cfg.Retry.JitterMs, includeZero)
	putSection(layer, "retry", retry)

	httpSection := map[string]any{}
	putInt(httpSection, "request_timeout_ms", cfg.HTTP.RequestTimeoutMs, includeZero)
	if includeZero || cfg.HTTP.MaxResponseBodyBytes != 0 {
		httpSection["max_response_body_bytes"] = cfg.HTTP.MaxResponseBodyBytes
	}
	putSection(layer, "http", httpSection)

	logSection := map[string]any{}
	putInt(logSection, "max_string_length", cfg.Log.MaxStringLength, includeZero)
	putSection(layer, "log", logSection)

	store := map[string]any{}
	putString(store, "driver", cfg.Store.Driver, includeZero)
	putString(store, "dsn", cfg.Store.DSN, includeZero)
	putSection(layer, "store", store)

	supervisor := map[string]any{}
	putInt(supervisor, "run_timeout_ms", cfg.Supervisor.RunTimeoutMs, includeZero)
	putInt(supervisor, "handshake_timeout_ms", cfg.Supervisor.HandshakeTimeoutMs, includeZero)
	putSection(layer, "supervisor", supervisor)
	return layer
}

func putString(section map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		section[key] = value
	}
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}
