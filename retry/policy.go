package retry

import (
	"math/rand/v2"
	"time"

	"github.com/goliatone/go-keyprobe/core"
)

// RandomSource yields values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type RandomFunc func() float64

func (f RandomFunc) Float64() float64 {
	return f()
}

type globalRandom struct{}

func (globalRandom) Float64() float64 {
	return rand.Float64()
}

type Decision struct {
	Retry bool
	Delay time.Duration
	// NextAttempt is the attempt number the retry will run as.
	NextAttempt int
}

// Policy decides retry-or-finalize for a classified outcome. The delay is
// min(MaxDelay, BaseDelay*attempt) plus a random share of Jitter.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
	Random    RandomSource
}

func NewPolicy(cfg core.RetryConfig) *Policy {
	return &Policy{
		BaseDelay: time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:  time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		Jitter:    time.Duration(cfg.JitterMs) * time.Millisecond,
		Random:    globalRandom{},
	}
}

func (p *Policy) Decide(outcome core.TestOutcome, attempt int, maxRetries int) Decision {
	if attempt < 1 {
		attempt = 1
	}
	if !outcome.Retryable || attempt > maxRetries {
		return Decision{}
	}
	return Decision{
		Retry:       true,
		Delay:       p.NextDelay(attempt),
		NextAttempt: attempt + 1,
	}
}

func (p *Policy) NextDelay(attempt int) time.Duration {
	if p == nil {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay * time.Duration(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		random := p.Random
		if random == nil {
			random = globalRandom{}
		}
		fraction := random.Float64()
		if fraction < 0 {
			fraction = 0
		}
		if fraction >= 1 {
			fraction = 0.999999
		}
		delay += time.Duration(fraction * float64(p.Jitter))
	}
	if delay < 0 {
		return 0
	}
	return delay
}
