package eventlog

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

const DefaultMaxStringLength = 2000

// Sanitizer prepares attempt payloads for storage: strings are truncated,
// header maps are flattened, sensitive keys are redacted and the credential
// under test is scrubbed from every string.
type Sanitizer struct {
	MaxStringLength int
	Secret          string
}

func (s Sanitizer) Map(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range core.RedactSensitiveMap(in) {
		out[key] = s.Value(value)
	}
	return out
}

func (s Sanitizer) Value(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		return s.String(typed)
	case []byte:
		return s.String(string(typed))
	case error:
		return s.String(typed.Error())
	case map[string]any:
		return s.Map(typed)
	case map[string]string:
		return s.Map(core.RedactHeaders(typed))
	case http.Header:
		return s.Map(core.RedactHeaders(flattenHeader(typed)))
	case map[string][]string:
		return s.Map(core.RedactHeaders(flattenHeader(typed)))
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = s.Value(typed[i])
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = s.String(typed[i])
		}
		return out
	case fmt.Stringer:
		return s.String(typed.String())
	default:
		return value
	}
}

func (s Sanitizer) String(value string) string {
	return Truncate(core.ScrubSecret(value, s.Secret), s.maxLength())
}

// ErrorInfo normalizes an error into {message, code, stack}. It returns nil
// when there is nothing to report.
func (s Sanitizer) ErrorInfo(err error, message string, code string, stack string) *core.ErrorInfo {
	message = strings.TrimSpace(message)
	if err != nil {
		if message == "" {
			message = err.Error()
		}
		if strings.TrimSpace(code) == "" {
			code = core.ErrorCode(err)
		}
	}
	if message == "" && strings.TrimSpace(code) == "" {
		return nil
	}
	if message == "" {
		message = code
	}
	return &core.ErrorInfo{
		Message: s.String(message),
		Code:    strings.TrimSpace(code),
		Stack:   s.String(stack),
	}
}

func (s Sanitizer) maxLength() int {
	if s.MaxStringLength <= 0 {
		return DefaultMaxStringLength
	}
	return s.MaxStringLength
}

// Truncate shortens value to max characters and appends a marker carrying the
// number of dropped characters.
func Truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + fmt.Sprintf("...[truncated %d chars]", len(runes)-max)
}

func flattenHeader(header map[string][]string) map[string]string {
	out := make(map[string]string, len(header))
	keys := make([]string, 0, len(header))
	for key := range header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out[strings.ToLower(key)] = strings.Join(header[key], ", ")
	}
	return out
}
