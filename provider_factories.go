package keyprobe

import (
	"time"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/providers"
	"github.com/goliatone/go-keyprobe/providers/anthropic"
	"github.com/goliatone/go-keyprobe/providers/gemini"
	"github.com/goliatone/go-keyprobe/providers/openai"
)

const (
	deepSeekDefaultModel   = "deepseek-chat"
	xaiDefaultModel        = "grok-2-latest"
	openRouterDefaultModel = "openai/gpt-4o-mini"
)

func OpenAIProvider(cfg openai.Config) (core.ProviderAdapter, error) {
	return openai.New(cfg)
}

func DeepSeekProvider(transport core.TransportAdapter) (core.ProviderAdapter, error) {
	return compatibleProvider(openai.DeepSeekProviderID, openai.DeepSeekBaseURL, deepSeekDefaultModel, BuiltinOptions{Transport: transport})
}

func XAIProvider(transport core.TransportAdapter) (core.ProviderAdapter, error) {
	return compatibleProvider(openai.XAIProviderID, openai.XAIBaseURL, xaiDefaultModel, BuiltinOptions{Transport: transport})
}

func OpenRouterProvider(transport core.TransportAdapter) (core.ProviderAdapter, error) {
	return compatibleProvider(openai.OpenRouterProviderID, openai.OpenRouterBaseURL, openRouterDefaultModel, BuiltinOptions{Transport: transport})
}

func AnthropicProvider(cfg anthropic.Config) (core.ProviderAdapter, error) {
	return anthropic.New(cfg)
}

func GeminiProvider(cfg gemini.Config) (core.ProviderAdapter, error) {
	return gemini.New(cfg)
}

// BuiltinOptions carries the settings shared by every built-in provider.
type BuiltinOptions struct {
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Transport            core.TransportAdapter
	// GeminiRetry403 overrides the gemini default of retrying 403 responses.
	GeminiRetry403 *bool
}

func BuiltinOptionsFromConfig(cfg Config) BuiltinOptions {
	return BuiltinOptions{
		Timeout:              cfg.RequestTimeout(),
		MaxResponseBodyBytes: cfg.HTTP.MaxResponseBodyBytes,
	}
}

// BuiltinProviders returns openai, deepseek, xai, openrouter, anthropic and
// gemini adapters in that order.
func BuiltinProviders(opts BuiltinOptions) ([]core.ProviderAdapter, error) {
	factories := []func() (core.ProviderAdapter, error){
		func() (core.ProviderAdapter, error) {
			return OpenAIProvider(openai.Config{
				Timeout:              opts.Timeout,
				MaxResponseBodyBytes: opts.MaxResponseBodyBytes,
				Transport:            opts.Transport,
			})
		},
		func() (core.ProviderAdapter, error) {
			return compatibleProvider(openai.DeepSeekProviderID, openai.DeepSeekBaseURL, deepSeekDefaultModel, opts)
		},
		func() (core.ProviderAdapter, error) {
			return compatibleProvider(openai.XAIProviderID, openai.XAIBaseURL, xaiDefaultModel, opts)
		},
		func() (core.ProviderAdapter, error) {
			return compatibleProvider(openai.OpenRouterProviderID, openai.OpenRouterBaseURL, openRouterDefaultModel, opts)
		},
		func() (core.ProviderAdapter, error) {
			return AnthropicProvider(anthropic.Config{
				Timeout:              opts.Timeout,
				MaxResponseBodyBytes: opts.MaxResponseBodyBytes,
				Transport:            opts.Transport,
			})
		},
		func() (core.ProviderAdapter, error) {
			return GeminiProvider(gemini.Config{
				Timeout:              opts.Timeout,
				MaxResponseBodyBytes: opts.MaxResponseBodyBytes,
				Transport:            opts.Transport,
				Retry403:             opts.GeminiRetry403,
			})
		},
	}
	out := make([]core.ProviderAdapter, 0, len(factories))
	for _, factory := range factories {
		adapter, err := factory()
		if err != nil {
			return nil, err
		}
		out = append(out, adapter)
	}
	return out, nil
}

func NewBuiltinRegistry(opts BuiltinOptions) (*providers.Registry, error) {
	adapters, err := BuiltinProviders(opts)
	if err != nil {
		return nil, err
	}
	return providers.NewRegistry(adapters...)
}

func compatibleProvider(providerID string, baseURL string, model string, opts BuiltinOptions) (core.ProviderAdapter, error) {
	return openai.New(openai.Config{
		ProviderID:           providerID,
		BaseURL:              baseURL,
		DefaultModel:         model,
		Timeout:              opts.Timeout,
		MaxResponseBodyBytes: opts.MaxResponseBodyBytes,
		Transport:            opts.Transport,
	})
}
