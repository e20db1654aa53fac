package core

import (
	"net/url"
	"strings"
)

const RedactedValue = "[REDACTED]"

func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

// RedactHeaders masks credential-bearing headers in a flattened header map.
func RedactHeaders(headers map[string]string) map[string]any {
	out := make(map[string]any, len(headers))
	for key, value := range headers {
		if shouldRedactKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = value
	}
	return out
}

// RedactURL masks credential-bearing query parameters.
func RedactURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	query := parsed.Query()
	changed := false
	for key := range query {
		if shouldRedactKey(key) {
			query.Set(key, RedactedValue)
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// ScrubSecret replaces every occurrence of secret in text, raw or query
// escaped.
func ScrubSecret(text string, secret string) string {
	if strings.TrimSpace(secret) == "" || text == "" {
		return text
	}
	text = strings.ReplaceAll(text, secret, RedactedValue)
	if escaped := url.QueryEscape(secret); escaped != secret {
		text = strings.ReplaceAll(text, escaped, RedactedValue)
	}
	return text
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case map[string]string:
		return RedactHeaders(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) || strings.Contains(key, "ratelimit") {
		return false
	}
	if key == "key" {
		return true
	}
	sensitiveTokens := []string{
		"password",
		"secret",
		"token",
		"authorization",
		"api_key",
		"api-key",
		"apikey",
		"access_key",
		"credential",
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "provider_id",
		"max_tokens",
		"maxoutputtokens",
		"max_output_tokens",
		"request_id",
		"x-request-id":
		return true
	default:
		return false
	}
}
