package anthropic

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/providers"
)

const (
	ProviderID     = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com/v1"
	DefaultModel   = "claude-3-5-haiku-latest"
	APIVersion     = "2023-06-01"
)

type Config struct {
	BaseURL              string
	DefaultModel         string
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Transport            core.TransportAdapter
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		DefaultModel: DefaultModel,
	}
}

func New(cfg Config) (*providers.HTTPAdapter, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	return providers.NewHTTPAdapter(providers.HTTPAdapterConfig{
		ID:                   ProviderID,
		BaseURL:              cfg.BaseURL,
		DefaultModel:         cfg.DefaultModel,
		Timeout:              cfg.Timeout,
		MaxResponseBodyBytes: cfg.MaxResponseBodyBytes,
		Transport:            cfg.Transport,
		BuildValidation:      buildMessagesRequest,
		ValidatePayload:      validateMessagesPayload,
		BuildListModels:      buildListModelsRequest,
		ParseModels:          parseModels,
	})
}

func headers(credential string) map[string]string {
	return map[string]string{
		"x-api-key":         credential,
		"anthropic-version": APIVersion,
	}
}

func buildMessagesRequest(req core.ProbeRequest, baseURL string) core.TransportRequest {
	body, _ := json.Marshal(map[string]any{
		"model":      req.Model,
		"max_tokens": 1,
		"messages": []map[string]string{
			{"role": "user", "content": "hi"},
		},
	})
	return core.TransportRequest{
		Method:  http.MethodPost,
		URL:     baseURL + "/messages",
		Headers: headers(req.Credential),
		Body:    body,
	}
}

func validateMessagesPayload(payload map[string]any) (string, bool) {
	if _, ok := payload["content"].([]any); !ok {
		return "", false
	}
	return providers.StringField(payload, "model"), true
}

func buildListModelsRequest(req core.ProbeRequest, baseURL string) core.TransportRequest {
	return core.TransportRequest{
		Method:  http.MethodGet,
		URL:     baseURL + "/models",
		Headers: headers(req.Credential),
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
