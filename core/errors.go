package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorNetwork            = "PROBE_NETWORK_ERROR"
	ErrorTimeout            = "PROBE_TIMEOUT_ERROR"
	ErrorParse              = "PROBE_PARSE_ERROR"
	ErrorAuth               = "PROBE_AUTH_ERROR"
	ErrorRateLimited        = "PROBE_RATE_LIMITED"
	ErrorMalformedResponse  = "PROBE_MALFORMED_RESPONSE"
	ErrorHTTPStatus         = "PROBE_HTTP_STATUS"
	ErrorUnknownProvider    = "PROBE_UNKNOWN_PROVIDER"
	ErrorBadInput           = "PROBE_BAD_INPUT"
	ErrorRunActive          = "PROBE_RUN_ACTIVE"
	ErrorEngineTimeout      = "PROBE_ENGINE_TIMEOUT"
	ErrorEngineDisconnected = "PROBE_ENGINE_DISCONNECTED"
	ErrorEngineFailure      = "PROBE_ENGINE_FAILURE"
	ErrorInternal           = "PROBE_INTERNAL_ERROR"
)

var (
	ErrRunActive        = NewError("core: a run is already active", goerrors.CategoryConflict, ErrorRunActive)
	ErrLogEntryNotFound = errors.New("core: log entry not found")
)

func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func WrapError(source error, category goerrors.Category, textCode string, message string) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode)
	}
	return ensureErrorEnvelope(goerrors.Wrap(source, category, message).WithTextCode(textCode))
}

func UnknownProviderError(providerID string) error {
	return NewError(
		fmt.Sprintf("core: provider %q is not registered", strings.TrimSpace(providerID)),
		goerrors.CategoryNotFound,
		ErrorUnknownProvider,
	).WithMetadata(map[string]any{"provider_id": strings.TrimSpace(providerID)})
}

func ValidationError(field string, message string) error {
	return ScopedValidationError("core", field, message)
}

// ScopedValidationError builds a bad_input validation error whose message is
// prefixed with scope.
func ScopedValidationError(scope string, field string, message string) error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// ErrorCode returns the text code carried by err, mapping untyped errors
// through the default go-errors mappers.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	return MapError(err).TextCode
}

// MapError converts any error into a keyprobe envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(err, goerrors.CategoryExternal, ErrorTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return WrapError(err, goerrors.CategoryOperation, ErrorInternal, err.Error())
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

// OutcomeFromError converts an error escaping an adapter into a terminal or
// retryable invalid outcome depending on its text code.
func OutcomeFromError(err error) TestOutcome {
	mapped := MapError(err)
	if mapped == nil {
		return TestOutcome{Status: StatusInvalid, ErrorCode: ErrorInternal, Error: "unknown error"}
	}
	outcome := TestOutcome{
		Status:    StatusInvalid,
		ErrorCode: mapped.TextCode,
		Error:     strings.TrimSpace(err.Error()),
	}
	switch mapped.TextCode {
	case ErrorNetwork, ErrorTimeout:
		outcome.Retryable = true
	case ErrorRateLimited:
		outcome.Status = StatusRateLimited
		outcome.Retryable = true
	}
	return outcome
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorUnknownProvider
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuth
	case goerrors.CategoryConflict:
		return ErrorRunActive
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorNetwork
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
