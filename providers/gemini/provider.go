package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/providers"
)

const (
	ProviderID     = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"

	defaultProbeTTL         = "60s"
	defaultProbeFillerCount = 1200
	probeFillerSentence     = "This text exists only to reach the minimum size for a cached content check. "
)

type Config struct {
	BaseURL              string
	DefaultModel         string
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Transport            core.TransportAdapter
	// Retry403 defaults to true: 403s from this provider are commonly proxy
	// throttling rather than permission failures.
	Retry403 *bool
	// ProbeModel overrides the model used for the cached content probe.
	ProbeModel       string
	ProbeTTL         string
	ProbeFillerCount int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		DefaultModel:     DefaultModel,
		Retry403:         core.BoolPtr(true),
		ProbeTTL:         defaultProbeTTL,
		ProbeFillerCount: defaultProbeFillerCount,
	}
}

type Adapter struct {
	*providers.HTTPAdapter
	probeModel       string
	probeTTL         string
	probeFillerCount int
}

func New(cfg Config) (*Adapter, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.Retry403 == nil {
		cfg.Retry403 = defaults.Retry403
	}
	if strings.TrimSpace(cfg.ProbeTTL) == "" {
		cfg.ProbeTTL = defaults.ProbeTTL
	}
	if cfg.ProbeFillerCount <= 0 {
		cfg.ProbeFillerCount = defaults.ProbeFillerCount
	}
	base, err := providers.NewHTTPAdapter(providers.HTTPAdapterConfig{
		ID:                   ProviderID,
		BaseURL:              cfg.BaseURL,
		DefaultModel:         cfg.DefaultModel,
		Timeout:              cfg.Timeout,
		MaxResponseBodyBytes: cfg.MaxResponseBodyBytes,
		Retry403:             *cfg.Retry403,
		Transport:            cfg.Transport,
		BuildValidation:      buildGenerateRequest,
		ValidatePayload:      validateGeneratePayload,
		BuildListModels:      buildListModelsRequest,
		ParseModels:          parseModels,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		HTTPAdapter:      base,
		probeModel:       strings.TrimSpace(cfg.ProbeModel),
		probeTTL:         cfg.ProbeTTL,
		probeFillerCount: cfg.ProbeFillerCount,
	}, nil
}

// ProbePaid creates a short-lived cached content entry, a capability only
// available to billing-enabled keys. 2xx means paid; 429 and 400/401/403 mean
// not paid; anything else leaves the answer undecided.
func (a *Adapter) ProbePaid(ctx context.Context, req core.ProbeRequest) core.PaidResult {
	model := a.probeModel
	if model == "" {
		model = strings.TrimSpace(req.Model)
	}
	if model == "" {
		model = a.Config().DefaultModel
	}
	body, _ := json.Marshal(map[string]any{
		"model": "models/" + strings.TrimPrefix(model, "models/"),
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]string{{"text": strings.Repeat(probeFillerSentence, a.probeFillerCount)}},
			},
		},
		"ttl": a.probeTTL,
	})
	httpReq := core.TransportRequest{
		Method: http.MethodPost,
		URL:    a.BaseURL(req) + "/cachedContents",
		Query:  map[string]string{"key": req.Credential},
		Body:   body,
	}
	result := core.PaidResult{Request: summarizeProbeRequest(httpReq)}

	res, err := a.Do(ctx, httpReq)
	if err != nil {
		result.Error = core.ScrubSecret(err.Error(), req.Credential)
		return result
	}
	result.StatusCode = res.StatusCode
	result.Response = providers.SummarizeResponse(res)

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		result.IsPaid = core.BoolPtr(true)
		a.deleteCachedContent(ctx, req, res.Body)
	case res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusBadRequest,
		res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusForbidden:
		result.IsPaid = core.BoolPtr(false)
	default:
		result.Error = http.StatusText(res.StatusCode)
		if result.Error == "" {
			result.Error = "unexpected status"
		}
	}
	return result
}

// deleteCachedContent removes the probe entry so it does not accrue storage
// until the TTL expires. Failures are ignored.
func (a *Adapter) deleteCachedContent(ctx context.Context, req core.ProbeRequest, body []byte) {
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return
	}
	name := providers.StringField(payload, "name")
	if !strings.HasPrefix(name, "cachedContents/") {
		return
	}
	_, _ = a.Do(ctx, core.TransportRequest{
		Method: http.MethodDelete,
		URL:    a.BaseURL(req) + "/" + name,
		Query:  map[string]string{"key": req.Credential},
	})
}

func summarizeProbeRequest(req core.TransportRequest) map[string]any {
	summary := providers.SummarizeRequest(req)
	summary["body_bytes"] = len(req.Body)
	delete(summary, "body")
	return summary
}

func buildGenerateRequest(req core.ProbeRequest, baseURL string) core.TransportRequest {
	body, _ := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": "hi"}}},
		},
		"generationConfig": map[string]any{"maxOutputTokens": 1},
	})
	model := strings.TrimPrefix(req.Model, "models/")
	return core.TransportRequest{
		Method: http.MethodPost,
		URL:    baseURL + "/models/" + url.PathEscape(model) + ":generateContent",
		Query:  map[string]string{"key": req.Credential},
		Body:   body,
	}
}

func validateGeneratePayload(payload map[string]any) (string, bool) {
	if len(providers.ListOf(payload, "candidates")) == 0 {
		return "", false
	}
	return providers.StringField(payload, "modelVersion"), true
}

func buildListModelsRequest(req core.ProbeRequest, baseURL string) core.TransportRequest {
	return core.TransportRequest{
		Method: http.MethodGet,
		URL:    baseURL + "/models",
		Query:  map[string]string{"key": req.Credential},
	}
}

func parseModels(payload map[string]any) []string {
	items := providers.ListOf(payload, "models")
	models := make([]string, 0, len(items))
	for _, item := range items {
		if name := providers.StringField(item, "name"); name != "" {
			models = append(models, strings.TrimPrefix(name, "models/"))
		}
	}
	return models
}

var (
	_ core.ProviderAdapter = (*Adapter)(nil)
	_ core.PaidProbe       = (*Adapter)(nil)
	_ core.ModelLister     = (*Adapter)(nil)
)
