package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-keyprobe/core"
)

const KindREST = "rest"

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter sends probe requests over HTTP. It never interprets status
// codes: any response that arrives is handed back for classification.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"Content-Type": "application/json"},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

// Do executes one request. Failures before a status line arrives are coded
// network or timeout so the retry policy can treat them as transient.
func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, failure(nil, core.ErrorInternal, "transport: rest adapter requires an http client", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, target, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	summary := map[string]any{"adapter": KindREST, "method": httpReq.Method, "url": target}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		summary["duration_ms"] = time.Since(startedAt).Milliseconds()
		return core.TransportResponse{}, failure(redactURLError(err), failureCode(err), "transport: execute http request", summary)
	}
	defer httpRes.Body.Close()

	summary["status_code"] = httpRes.StatusCode
	body, err := readBody(httpRes.Body, bodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes), summary)
	if err != nil {
		return core.TransportResponse{}, err
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"kind":        KindREST,
			"method":      httpReq.Method,
			"url":         target,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

// newRequest merges the query parameters into the URL and applies default
// headers before request headers. target is the redacted URL for logs.
func (a *RESTAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, string, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsed.Host == "" {
		return nil, "", failure(err, core.ErrorBadInput, "transport: invalid request url",
			map[string]any{"adapter": KindREST, "url": core.RedactURL(req.URL)})
	}
	if len(req.Query) > 0 {
		values := parsed.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		parsed.RawQuery = values.Encode()
	}
	target := core.RedactURL(parsed.String())

	httpReq, err := http.NewRequestWithContext(ctx, method, parsed.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, "", failure(err, core.ErrorBadInput, "transport: create http request",
			map[string]any{"adapter": KindREST, "method": method, "url": target})
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)
	return httpReq, target, nil
}

func setHeaders(dst http.Header, headers map[string]string) {
	for key, value := range headers {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

// readBody reads at most limit bytes. A longer body is a malformed response
// rather than a silently truncated one.
func readBody(body io.Reader, limit int64, summary map[string]any) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, failure(err, failureCode(err), "transport: read response body", summary)
	}
	if int64(len(data)) > limit {
		summary["response_limit_b"] = limit
		return nil, failure(nil, core.ErrorMalformedResponse,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit), summary)
	}
	return data, nil
}

func failureCode(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return core.ErrorTimeout
	}
	return core.ErrorNetwork
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func bodyLimit(requestLimit int64, adapterLimit int64) int64 {
	switch {
	case requestLimit > 0:
		return requestLimit
	case adapterLimit > 0:
		return adapterLimit
	default:
		return defaultResponseBodyLimit
	}
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)

// redactURLError masks credential query parameters in the URL that net/http
// embeds in its error text.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr != nil {
		urlErr.URL = core.RedactURL(urlErr.URL)
	}
	return err
}
