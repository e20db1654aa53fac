package core

import (
	"net/url"
	"strings"
	"time"
)

type Status string

const (
	StatusTesting     Status = "testing"
	StatusRetrying    Status = "retrying"
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
	StatusRateLimited Status = "rate-limited"
	StatusPaid        Status = "paid"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether s can be a final classification.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusRateLimited, StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

type Stage string

const (
	StageTestStart        Stage = "test_start"
	StageAttemptStart     Stage = "attempt_start"
	StageAttemptResult    Stage = "attempt_result"
	StageRetryScheduled   Stage = "retry_scheduled"
	StageAttemptException Stage = "attempt_exception"
	StagePaidDetection    Stage = "paid_detection"
	StageFinal            Stage = "final"
	StageCancelled        Stage = "cancelled"
)

type RunConfig struct {
	ProviderID        string `json:"providerId"`
	Model             string `json:"model"`
	ProxyEndpoint     string `json:"proxyEndpoint,omitempty"`
	ConcurrencyBudget int    `json:"concurrencyBudget"`
	MaxRetries        int    `json:"maxRetries"`
	EnablePaidProbe   bool   `json:"enablePaidProbe"`
}

func (c RunConfig) Normalized() RunConfig {
	c.ProviderID = strings.TrimSpace(strings.ToLower(c.ProviderID))
	c.Model = strings.TrimSpace(c.Model)
	c.ProxyEndpoint = strings.TrimSpace(c.ProxyEndpoint)
	return c
}

func (c RunConfig) Validate() error {
	c = c.Normalized()
	if c.ProviderID == "" {
		return ValidationError("providerId", "provider id is required")
	}
	if c.ConcurrencyBudget < 1 {
		return ValidationError("concurrencyBudget", "concurrency budget must be at least 1")
	}
	if c.MaxRetries < 0 {
		return ValidationError("maxRetries", "max retries must not be negative")
	}
	if c.ProxyEndpoint != "" {
		parsed, err := url.Parse(c.ProxyEndpoint)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return ValidationError("proxyEndpoint", "proxy endpoint must be an absolute http(s) url")
		}
	}
	return nil
}

// ProbeRequest is the input handed to a ProviderAdapter for one attempt.
type ProbeRequest struct {
	Credential    string
	Model         string
	ProxyEndpoint string
}

type TestOutcome struct {
	Status     Status
	Retryable  bool
	ErrorCode  string
	Error      string
	StatusCode int
	Model      string
	IsPaid     *bool
	Request    map[string]any
	Response   map[string]any
}

func (o TestOutcome) Failed() bool {
	return strings.TrimSpace(o.Error) != "" || strings.TrimSpace(o.ErrorCode) != ""
}

type PaidResult struct {
	IsPaid     *bool
	StatusCode int
	Error      string
	Request    map[string]any
	Response   map[string]any
}

type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// AttemptEvent is the raw observation handed to the event logger before
// sanitization.
type AttemptEvent struct {
	Stage      Stage
	Attempt    int
	Status     Status
	StartedAt  time.Time
	Duration   time.Duration
	IsFinal    bool
	Request    map[string]any
	Response   map[string]any
	Err        error
	ErrorCode  string
	Stack      string
	StatusCode int
	Model      string
	IsPaid     *bool
}

type AttemptRecord struct {
	Stage      Stage          `json:"stage"`
	Attempt    int            `json:"attempt"`
	Status     Status         `json:"status,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	DurationMs int64          `json:"durationMs,omitempty"`
	IsFinal    bool           `json:"isFinal"`
	StatusCode int            `json:"statusCode,omitempty"`
	Request    map[string]any `json:"request,omitempty"`
	Response   map[string]any `json:"response,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
}

type LogEntry struct {
	ID              string          `json:"id"`
	Credential      string          `json:"credential"`
	ProviderID      string          `json:"providerId"`
	Model           string          `json:"model"`
	Metadata        map[string]any  `json:"metadata"`
	Events          []AttemptRecord `json:"events"`
	Attempts        int             `json:"attempts"`
	RetryCount      int             `json:"retryCount"`
	CurrentStatus   Status          `json:"currentStatus,omitempty"`
	FinalStatus     Status          `json:"finalStatus,omitempty"`
	TotalDurationMs int64           `json:"totalDurationMs"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (e LogEntry) Clone() LogEntry {
	out := e
	out.Metadata = CloneMap(e.Metadata)
	out.Events = make([]AttemptRecord, 0, len(e.Events))
	for _, event := range e.Events {
		copied := event
		copied.Request = CloneMap(event.Request)
		copied.Response = CloneMap(event.Response)
		if event.Error != nil {
			errInfo := *event.Error
			copied.Error = &errInfo
		}
		out.Events = append(out.Events, copied)
	}
	return out
}

// CredentialResult is the final per-credential classification reported when a
// run completes.
type CredentialResult struct {
	Credential string `json:"credential"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Model      string `json:"model,omitempty"`
	IsPaid     *bool  `json:"isPaid,omitempty"`
	RetryCount int    `json:"retryCount"`
}

type RunCounters struct {
	Total       int `json:"total"`
	Valid       int `json:"valid"`
	Invalid     int `json:"invalid"`
	RateLimited int `json:"rateLimited"`
	Paid        int `json:"paid"`
	Cancelled   int `json:"cancelled"`
	Pending     int `json:"pending"`
}

// CountResults derives counters from final statuses. Non-terminal statuses
// count as pending.
func CountResults(results []CredentialResult) RunCounters {
	counters := RunCounters{Total: len(results)}
	for _, result := range results {
		switch result.Status {
		case StatusValid:
			counters.Valid++
		case StatusInvalid:
			counters.Invalid++
		case StatusRateLimited:
			counters.RateLimited++
		case StatusPaid:
			counters.Paid++
		case StatusCancelled:
			counters.Cancelled++
		default:
			counters.Pending++
		}
	}
	return counters
}

// DedupeCredentials keeps the first occurrence of each credential and drops
// blanks. Identity is the exact string value.
func DedupeCredentials(credentials []string) []string {
	seen := make(map[string]struct{}, len(credentials))
	out := make([]string, 0, len(credentials))
	for _, credential := range credentials {
		if strings.TrimSpace(credential) == "" {
			continue
		}
		if _, ok := seen[credential]; ok {
			continue
		}
		seen[credential] = struct{}{}
		out = append(out, credential)
	}
	return out
}

// MaskCredential keeps a short prefix and suffix for log output.
func MaskCredential(credential string) string {
	runes := []rune(strings.TrimSpace(credential))
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-4:])
}

func BoolPtr(value bool) *bool {
	return &value
}

func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
