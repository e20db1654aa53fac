package openai

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/providers"
)

const (
	ProviderID     = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Compatible endpoints that speak the OpenAI chat completions protocol.
const (
	DeepSeekProviderID   = "deepseek"
	DeepSeekBaseURL      = "https://api.deepseek.com/v1"
	XAIProviderID        = "xai"
	XAIBaseURL           = "https://api.x.ai/v1"
	OpenRouterProviderID = "openrouter"
	OpenRouterBaseURL    = "https://openrouter.ai/api/v1"
)

type Config struct {
	ProviderID           string
	BaseURL              string
	DefaultModel         string
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Retry403             bool
	Transport            core.TransportAdapter
}

func DefaultConfig() Config {
	return Config{
		ProviderID:   ProviderID,
		BaseURL:      DefaultBaseURL,
		DefaultModel: DefaultModel,
	}
}

func New(cfg Config) (*providers.HTTPAdapter, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.ProviderID) == "" {
		cfg.ProviderID = defaults.ProviderID
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	return providers.NewHTTPAdapter(providers.HTTPAdapterConfig{
		ID:                   cfg.ProviderID,
		BaseURL:              cfg.BaseURL,
		DefaultModel:         cfg.DefaultModel,
		Timeout:              cfg.Timeout,
		MaxResponseBodyBytes: cfg.MaxResponseBodyBytes,
		Retry403:             cfg.Retry403,
		Transport:            cfg.Transport,
		BuildValidation:      buildChatRequest,
		ValidatePayload:      validateChatPayload,
		BuildListModels:      buildListModelsRequest,
		ParseModels:          parseModels,
	})
}

// NewCompatible builds an adapter for an OpenAI-compatible provider.
func NewCompatible(providerID string, baseURL string, defaultModel string, transport core.TransportAdapter) (*providers.HTTPAdapter, error) {
	return New(Config{
		ProviderID:   providerID,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		Transport:    transport,
	})
}

func buildChatRequest(req core.ProbeRequest, baseURL string) core.TransportRequest {
	body, _ := json.Marshal(map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": "hi"},
		},
		"max_tokens": 1,
	})
	return core.TransportRequest{
		Method:  http.MethodPost,
		URL:     baseURL + "/chat/completions",
		Headers: map[string]string{"Authorization": "Bearer " + req.Credential},
		Body:    body,
	}
}

func validateChatPayload(payload map[string]any) (string, bool) {
	if len(providers.ListOf(payload, "choices")) == 0 {
		return "", false
	}
	return providers.StringField(payload, "model"), true
}

func buildListModelsRequest(req core.ProbeRequest, baseURL string) core.TransportRequest {
	return core.TransportRequest{
		Method:  http.MethodGet,
		URL:     baseURL + "/models",
		Headers: map[string]string{"Authorization": "Bearer " + req.Credential},
	}
}

func parseModels(payload map[string]any) []string {
	items := providers.ListOf(payload, "data")
	models := make([]string, 0, len(items))
	for _, item := range items {
		if id := providers.StringField(item, "id"); id != "" {
			models = append(models, id)
		}
	}
	return models
}
