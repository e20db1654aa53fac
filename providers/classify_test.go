package providers

import (
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-keyprobe/core"
)

func jsonResponse(status int, body string) core.TransportResponse {
	return core.TransportResponse{StatusCode: status, Body: []byte(body)}
}

func choicesPayload(payload map[string]any) (string, bool) {
	if len(ListOf(payload, "choices")) == 0 {
		return "", false
	}
	return StringField(payload, "model"), true
}

func TestClassifyNetworkFailureIsRetryableInvalid(t *testing.T) {
	err := core.NewError("dial tcp: no such host", goerrors.CategoryExternal, core.ErrorNetwork)
	outcome := Classify(core.TransportResponse{}, err, ClassifyOptions{})
	if outcome.Status != core.StatusInvalid || !outcome.Retryable || outcome.ErrorCode != core.ErrorNetwork {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestClassifyTimeoutIsRetryable(t *testing.T) {
	err := core.NewError("deadline", goerrors.CategoryExternal, core.ErrorTimeout)
	outcome := Classify(core.TransportResponse{}, err, ClassifyOptions{})
	if outcome.Status != core.StatusInvalid || !outcome.Retryable || outcome.ErrorCode != core.ErrorTimeout {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestClassifyAuthStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		outcome := Classify(jsonResponse(status, `{"error":{"message":"invalid api key"}}`), nil, ClassifyOptions{})
		if outcome.Status != core.StatusInvalid || outcome.Retryable || outcome.ErrorCode != core.ErrorAuth {
			t.Fatalf("status %d: unexpected outcome %+v", status, outcome)
		}
		if outcome.StatusCode != status {
			t.Fatalf("expected status code %d, got %d", status, outcome.StatusCode)
		}
	}
}

func TestClassify403OverrideIsRetryable(t *testing.T) {
	outcome := Classify(jsonResponse(http.StatusForbidden, `{}`), nil, ClassifyOptions{Retry403: true})
	if outcome.Status != core.StatusInvalid || !outcome.Retryable || outcome.ErrorCode != core.ErrorAuth {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	unauthorized := Classify(jsonResponse(http.StatusUnauthorized, `{}`), nil, ClassifyOptions{Retry403: true})
	if unauthorized.Retryable {
		t.Fatalf("expected 401 to stay terminal with the 403 override")
	}
}

func TestClassify429IsRateLimited(t *testing.T) {
	outcome := Classify(jsonResponse(http.StatusTooManyRequests, ``), nil, ClassifyOptions{})
	if outcome.Status != core.StatusRateLimited || !outcome.Retryable {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestClassifySuccessWithPayloadIsValid(t *testing.T) {
	outcome := Classify(jsonResponse(http.StatusOK, `{"model":"gpt-4o-mini-2024","choices":[{"index":0}]}`), nil, ClassifyOptions{
		ValidatePayload: choicesPayload,
	})
	if outcome.Status != core.StatusValid || outcome.Model != "gpt-4o-mini-2024" || outcome.Failed() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestClassifySuccessWithoutPayloadIsMalformed(t *testing.T) {
	outcome := Classify(jsonResponse(http.StatusOK, `{"object":"list"}`), nil, ClassifyOptions{ValidatePayload: choicesPayload})
	if outcome.Status != core.StatusInvalid || outcome.Retryable || outcome.ErrorCode != core.ErrorMalformedResponse {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestClassifySuccessWithUnparseableBodyIsParseError(t *testing.T) {
	outcome := Classify(jsonResponse(http.StatusOK, `<html>proxy</html>`), nil, ClassifyOptions{ValidatePayload: choicesPayload})
	if outcome.Status != core.StatusInvalid || outcome.Retryable || outcome.ErrorCode != core.ErrorParse {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestClassifyOtherStatuses(t *testing.T) {
	cases := map[int]bool{
		http.StatusBadRequest:          false,
		http.StatusNotFound:            false,
		http.StatusInternalServerError: false,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	for status, retryable := range cases {
		outcome := Classify(jsonResponse(status, `{"error":"boom"}`), nil, ClassifyOptions{})
		if outcome.Status != core.StatusInvalid || outcome.ErrorCode != core.ErrorHTTPStatus {
			t.Fatalf("status %d: unexpected outcome %+v", status, outcome)
		}
		if outcome.Retryable != retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v", status, retryable, outcome.Retryable)
		}
	}
}

func TestClassifyQuotaKeywordsReclassify(t *testing.T) {
	bodies := map[int]string{
		http.StatusOK:         `{"error":{"message":"You exceeded your current quota, please check your plan"}}`,
		http.StatusBadRequest: `{"error":{"code":400,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
	}
	for status, body := range bodies {
		outcome := Classify(jsonResponse(status, body), nil, ClassifyOptions{ValidatePayload: choicesPayload})
		if outcome.Status != core.StatusRateLimited || !outcome.Retryable || outcome.ErrorCode != core.ErrorRateLimited {
			t.Fatalf("status %d: unexpected outcome %+v", status, outcome)
		}
	}

	notQuota := Classify(jsonResponse(http.StatusBadRequest, `{"error":{"message":"model not found"}}`), nil, ClassifyOptions{})
	if notQuota.Status != core.StatusInvalid {
		t.Fatalf("expected plain 400 to stay invalid, got %+v", notQuota)
	}

	serverQuota := Classify(jsonResponse(http.StatusInternalServerError, `{"error":{"message":"quota backend down"}}`), nil, ClassifyOptions{})
	if serverQuota.Status != core.StatusInvalid {
		t.Fatalf("expected keyword reclassification only for 200/400, got %+v", serverQuota)
	}
}
