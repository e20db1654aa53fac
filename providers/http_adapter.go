package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/transport"
)

// RequestBuilder renders the provider-specific HTTP request for one probe.
type RequestBuilder func(req core.ProbeRequest, baseURL string) core.TransportRequest

type ModelsParser func(payload map[string]any) []string

type HTTPAdapterConfig struct {
	ID                   string
	BaseURL              string
	DefaultModel         string
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Retry403             bool
	Transport            core.TransportAdapter
	BuildValidation      RequestBuilder
	ValidatePayload      PayloadValidator
	BuildListModels      RequestBuilder
	ParseModels          ModelsParser
}

// HTTPAdapter is the shared ProviderAdapter implementation. Provider packages
// supply the request builders and payload checks.
type HTTPAdapter struct {
	cfg HTTPAdapterConfig
}

func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	cfg.ID = normalizeID(cfg.ID)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: adapter id is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("providers: base url is required for %s", cfg.ID)
	}
	if cfg.BuildValidation == nil {
		return nil, fmt.Errorf("providers: validation request builder is required for %s", cfg.ID)
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.NewRESTAdapter(nil)
	}
	return &HTTPAdapter{cfg: cfg}, nil
}

func (a *HTTPAdapter) ID() string {
	if a == nil {
		return ""
	}
	return a.cfg.ID
}

func (a *HTTPAdapter) Config() HTTPAdapterConfig {
	if a == nil {
		return HTTPAdapterConfig{}
	}
	return a.cfg
}

func (a *HTTPAdapter) Validate(ctx context.Context, req core.ProbeRequest) (core.TestOutcome, error) {
	if a == nil {
		return core.TestOutcome{}, fmt.Errorf("providers: adapter is nil")
	}
	req = a.normalizeRequest(req)
	httpReq := a.prepare(a.cfg.BuildValidation(req, a.BaseURL(req)))
	res, err := a.cfg.Transport.Do(ctx, httpReq)
	outcome := Classify(res, err, ClassifyOptions{
		Retry403:        a.cfg.Retry403,
		ValidatePayload: a.cfg.ValidatePayload,
	})
	if outcome.Model == "" && outcome.Status == core.StatusValid {
		outcome.Model = req.Model
	}
	outcome.Error = core.ScrubSecret(outcome.Error, req.Credential)
	outcome.Request = SummarizeRequest(httpReq)
	if err == nil {
		outcome.Response = SummarizeResponse(res)
	}
	return outcome, nil
}

func (a *HTTPAdapter) ListModels(ctx context.Context, req core.ProbeRequest) ([]string, error) {
	if a == nil {
		return nil, fmt.Errorf("providers: adapter is nil")
	}
	if a.cfg.BuildListModels == nil || a.cfg.ParseModels == nil {
		return nil, fmt.Errorf("providers: %s does not support model listing", a.cfg.ID)
	}
	req = a.normalizeRequest(req)
	res, err := a.cfg.Transport.Do(ctx, a.prepare(a.cfg.BuildListModels(req, a.BaseURL(req))))
	if err != nil {
		return nil, scrubError(err, req.Credential)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		payload, _ := parsePayload(res.Body)
		return nil, fmt.Errorf("providers: list models: %s", describeStatus(res.StatusCode, payload))
	}
	payload, err := parsePayload(res.Body)
	if err != nil {
		return nil, fmt.Errorf("providers: list models: parse response body: %w", err)
	}
	return a.cfg.ParseModels(payload), nil
}

// Do sends an auxiliary request through the adapter transport with the
// adapter timeout and body limit applied.
func (a *HTTPAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil {
		return core.TransportResponse{}, fmt.Errorf("providers: adapter is nil")
	}
	return a.cfg.Transport.Do(ctx, a.prepare(req))
}

// BaseURL returns the proxy endpoint when one is set, otherwise the provider
// base URL.
func (a *HTTPAdapter) BaseURL(req core.ProbeRequest) string {
	if proxy := strings.TrimSpace(req.ProxyEndpoint); proxy != "" {
		return strings.TrimRight(proxy, "/")
	}
	return a.cfg.BaseURL
}

func (a *HTTPAdapter) normalizeRequest(req core.ProbeRequest) core.ProbeRequest {
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		req.Model = a.cfg.DefaultModel
	}
	return req
}

func (a *HTTPAdapter) prepare(req core.TransportRequest) core.TransportRequest {
	if req.Timeout <= 0 {
		req.Timeout = a.cfg.Timeout
	}
	if req.MaxResponseBodyBytes <= 0 {
		req.MaxResponseBodyBytes = a.cfg.MaxResponseBodyBytes
	}
	return req
}

func SummarizeRequest(req core.TransportRequest) map[string]any {
	summary := map[string]any{
		"method":  strings.ToUpper(strings.TrimSpace(req.Method)),
		"url":     core.RedactURL(req.URL),
		"headers": core.RedactHeaders(req.Headers),
	}
	if len(req.Query) > 0 {
		summary["query"] = core.RedactHeaders(req.Query)
	}
	if len(req.Body) > 0 {
		summary["body"] = string(req.Body)
	}
	return summary
}

func SummarizeResponse(res core.TransportResponse) map[string]any {
	summary := map[string]any{
		"status":  res.StatusCode,
		"headers": core.RedactHeaders(res.Headers),
	}
	if len(res.Body) > 0 {
		summary["body"] = string(res.Body)
	}
	if duration, ok := res.Metadata["duration_ms"]; ok {
		summary["duration_ms"] = duration
	}
	return summary
}

// ListOf returns payload[key] as a list of objects, or nil.
func ListOf(payload map[string]any, key string) []map[string]any {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if typed, ok := item.(map[string]any); ok {
			out = append(out, typed)
		}
	}
	return out
}

func StringField(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return strings.TrimSpace(value)
}

var (
	_ core.ProviderAdapter = (*HTTPAdapter)(nil)
	_ core.ModelLister     = (*HTTPAdapter)(nil)
)

// scrubError rewrites err without secret in its text. The text code survives
// so callers still classify it.
func scrubError(err error, secret string) error {
	text := err.Error()
	scrubbed := core.ScrubSecret(text, secret)
	if scrubbed == text {
		return err
	}
	mapped := core.MapError(err)
	return core.NewError(scrubbed, mapped.Category, mapped.TextCode)
}
