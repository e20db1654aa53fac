package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

// PayloadValidator reports whether a 2xx body carries the provider's
// completion payload and, when present, the model that served it.
type PayloadValidator func(payload map[string]any) (model string, ok bool)

type ClassifyOptions struct {
	// Retry403 treats 403 as transient throttling instead of a terminal
	// permission error.
	Retry403        bool
	ValidatePayload PayloadValidator
}

var quotaKeywords = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"rate-limit",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
	"exceeded your current",
}

// Classify maps one transport round-trip into the outcome taxonomy.
func Classify(res core.TransportResponse, err error, opts ClassifyOptions) core.TestOutcome {
	if err != nil {
		return classifyTransportError(err)
	}

	outcome := core.TestOutcome{StatusCode: res.StatusCode}
	payload, parseErr := parsePayload(res.Body)

	if (res.StatusCode == http.StatusOK || res.StatusCode == http.StatusBadRequest) && parseErr == nil {
		if message := errorMessage(payload); message != "" && matchesQuota(message) {
			outcome.Status = core.StatusRateLimited
			outcome.Retryable = true
			outcome.ErrorCode = core.ErrorRateLimited
			outcome.Error = message
			return outcome
		}
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		outcome.Status = core.StatusInvalid
		outcome.ErrorCode = core.ErrorAuth
		outcome.Error = describeStatus(res.StatusCode, payload)
		outcome.Retryable = res.StatusCode == http.StatusForbidden && opts.Retry403
	case res.StatusCode == http.StatusTooManyRequests:
		outcome.Status = core.StatusRateLimited
		outcome.ErrorCode = core.ErrorRateLimited
		outcome.Error = describeStatus(res.StatusCode, payload)
		outcome.Retryable = true
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if parseErr != nil {
			outcome.Status = core.StatusInvalid
			outcome.ErrorCode = core.ErrorParse
			outcome.Error = fmt.Sprintf("parse response body: %v", parseErr)
			return outcome
		}
		validate := opts.ValidatePayload
		if validate == nil {
			validate = func(map[string]any) (string, bool) { return "", true }
		}
		model, ok := validate(payload)
		if !ok {
			outcome.Status = core.StatusInvalid
			outcome.ErrorCode = core.ErrorMalformedResponse
			outcome.Error = "response is missing the expected completion payload"
			return outcome
		}
		outcome.Status = core.StatusValid
		outcome.Model = model
	default:
		outcome.Status = core.StatusInvalid
		outcome.ErrorCode = core.ErrorHTTPStatus
		outcome.Error = describeStatus(res.StatusCode, payload)
		outcome.Retryable = IsRetryableStatus(res.StatusCode)
	}
	return outcome
}

// IsRetryableStatus lists the statuses retried outside of the dedicated
// auth and rate-limit branches.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func classifyTransportError(err error) core.TestOutcome {
	outcome := core.OutcomeFromError(err)
	switch outcome.ErrorCode {
	case core.ErrorNetwork, core.ErrorTimeout:
		outcome.Retryable = true
	default:
		outcome.Retryable = false
	}
	return outcome
}

func parsePayload(body []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("empty body")
	}
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// errorMessage pulls the provider error text from the common envelope shapes:
// {"error":{"message","status","type"}}, {"error":"..."} and {"message":"..."}.
func errorMessage(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	parts := []string{}
	switch typed := payload["error"].(type) {
	case string:
		parts = append(parts, typed)
	case map[string]any:
		for _, key := range []string{"message", "status", "type", "code"} {
			if value, ok := typed[key].(string); ok && strings.TrimSpace(value) != "" {
				parts = append(parts, value)
			}
		}
	}
	if value, ok := payload["message"].(string); ok && strings.TrimSpace(value) != "" {
		parts = append(parts, value)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func matchesQuota(message string) bool {
	message = strings.ToLower(message)
	for _, keyword := range quotaKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}

func describeStatus(code int, payload map[string]any) string {
	if message := errorMessage(payload); message != "" {
		return fmt.Sprintf("http status %d: %s", code, message)
	}
	return fmt.Sprintf("http status %d", code)
}
