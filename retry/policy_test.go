package retry

import (
	"testing"
	"time"

	"github.com/goliatone/go-keyprobe/core"
)

func fixedRandom(value float64) RandomSource {
	return RandomFunc(func() float64 { return value })
}

func TestDecideFinalizesTerminalOutcome(t *testing.T) {
	policy := &Policy{BaseDelay: time.Second, Random: fixedRandom(0)}
	decision := policy.Decide(core.TestOutcome{Status: core.StatusInvalid, Retryable: false}, 1, 5)
	if decision.Retry {
		t.Fatalf("expected terminal outcome to finalize")
	}
}

func TestDecideRetriesUntilAttemptExceedsMaxRetries(t *testing.T) {
	policy := &Policy{Random: fixedRandom(0)}
	limited := core.TestOutcome{Status: core.StatusRateLimited, Retryable: true}

	attempts := 0
	for attempt := 1; ; attempt++ {
		attempts++
		decision := policy.Decide(limited, attempt, 2)
		if !decision.Retry {
			break
		}
		if decision.NextAttempt != attempt+1 {
			t.Fatalf("expected next attempt %d, got %d", attempt+1, decision.NextAttempt)
		}
		if attempts > 10 {
			t.Fatalf("retry loop did not terminate")
		}
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts for maxRetries=2, got %d", attempts)
	}
}

func TestDecideZeroRetries(t *testing.T) {
	policy := &Policy{Random: fixedRandom(0)}
	if policy.Decide(core.TestOutcome{Retryable: true}, 1, 0).Retry {
		t.Fatalf("expected maxRetries=0 to finalize after the first attempt")
	}
}

func TestNextDelayScalesCapsAndJitters(t *testing.T) {
	policy := &Policy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  250 * time.Millisecond,
		Jitter:    100 * time.Millisecond,
		Random:    fixedRandom(0.5),
	}
	if got := policy.NextDelay(1); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
	if got := policy.NextDelay(2); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	if got := policy.NextDelay(10); got != 300*time.Millisecond {
		t.Fatalf("expected capped delay plus jitter 300ms, got %s", got)
	}
}

func TestNextDelayIsDeterministicWithInjectedSource(t *testing.T) {
	values := []float64{0.1, 0.9}
	index := 0
	policy := &Policy{Jitter: time.Second, Random: RandomFunc(func() float64 {
		value := values[index%len(values)]
		index++
		return value
	})}
	if got := policy.NextDelay(1); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %s", got)
	}
	if got := policy.NextDelay(1); got != 900*time.Millisecond {
		t.Fatalf("expected 900ms, got %s", got)
	}
}

func TestNewPolicyFromConfig(t *testing.T) {
	policy := NewPolicy(core.RetryConfig{BaseDelayMs: 10, MaxDelayMs: 20, JitterMs: 0})
	if policy.NextDelay(5) != 20*time.Millisecond {
		t.Fatalf("expected capped delay from config, got %s", policy.NextDelay(5))
	}
}
