package devkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-keyprobe/core"
)

type OutcomeScript struct {
	Outcome core.TestOutcome
	Err     error
	Delay   time.Duration
	Panic   any
}

func Valid(model string) OutcomeScript {
	return OutcomeScript{Outcome: core.TestOutcome{Status: core.StatusValid, StatusCode: 200, Model: model}}
}

func RateLimited() OutcomeScript {
	return OutcomeScript{Outcome: core.TestOutcome{
		Status:     core.StatusRateLimited,
		StatusCode: 429,
		Retryable:  true,
		ErrorCode:  core.ErrorRateLimited,
		Error:      "http status 429",
	}}
}

func Unauthorized() OutcomeScript {
	return OutcomeScript{Outcome: core.TestOutcome{
		Status:     core.StatusInvalid,
		StatusCode: 401,
		ErrorCode:  core.ErrorAuth,
		Error:      "http status 401",
	}}
}

func NetworkFailure() OutcomeScript {
	return OutcomeScript{Outcome: core.TestOutcome{
		Status:    core.StatusInvalid,
		Retryable: true,
		ErrorCode: core.ErrorNetwork,
		Error:     "dial tcp: connection refused",
	}}
}

// ScriptedAdapter is an in-memory ProviderAdapter and PaidProbe that replays
// per-credential outcome scripts and records concurrency.
type ScriptedAdapter struct {
	mu          sync.Mutex
	id          string
	fallback    []OutcomeScript
	scripts     map[string][]OutcomeScript
	paid        map[string]core.PaidResult
	paidDefault core.PaidResult
	calls       map[string]int
	paidCalls   map[string]int
	inFlight    int
	maxInFlight int
}

func NewScriptedAdapter(id string, fallback ...OutcomeScript) *ScriptedAdapter {
	if len(fallback) == 0 {
		fallback = []OutcomeScript{Valid("")}
	}
	return &ScriptedAdapter{
		id:        strings.TrimSpace(strings.ToLower(id)),
		fallback:  append([]OutcomeScript(nil), fallback...),
		scripts:   map[string][]OutcomeScript{},
		paid:      map[string]core.PaidResult{},
		calls:     map[string]int{},
		paidCalls: map[string]int{},
	}
}

func (a *ScriptedAdapter) Script(credential string, scripts ...OutcomeScript) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[credential] = append([]OutcomeScript(nil), scripts...)
	return a
}

func (a *ScriptedAdapter) ScriptPaid(credential string, result core.PaidResult) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paid[credential] = result
	return a
}

func (a *ScriptedAdapter) WithPaidDefault(result core.PaidResult) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paidDefault = result
	return a
}

func (a *ScriptedAdapter) ID() string {
	return a.id
}

func (a *ScriptedAdapter) Validate(ctx context.Context, req core.ProbeRequest) (core.TestOutcome, error) {
	a.mu.Lock()
	scripts := a.scripts[req.Credential]
	if len(scripts) == 0 {
		scripts = a.fallback
	}
	index := a.calls[req.Credential]
	a.calls[req.Credential] = index + 1
	if index >= len(scripts) {
		index = len(scripts) - 1
	}
	script := scripts[index]
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if script.Delay > 0 {
		timer := time.NewTimer(script.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.OutcomeFromError(ctx.Err()), nil
		case <-timer.C:
		}
	}
	if script.Panic != nil {
		panic(script.Panic)
	}
	outcome := script.Outcome
	if outcome.Model == "" && outcome.Status == core.StatusValid {
		outcome.Model = req.Model
	}
	return outcome, script.Err
}

func (a *ScriptedAdapter) ProbePaid(_ context.Context, req core.ProbeRequest) core.PaidResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paidCalls[req.Credential]++
	if result, ok := a.paid[req.Credential]; ok {
		return result
	}
	return a.paidDefault
}

func (a *ScriptedAdapter) Calls(credential string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[credential]
}

func (a *ScriptedAdapter) PaidCalls(credential string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paidCalls[credential]
}

func (a *ScriptedAdapter) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, count := range a.calls {
		total += count
	}
	return total
}

func (a *ScriptedAdapter) MaxInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}

var (
	_ core.ProviderAdapter = (*ScriptedAdapter)(nil)
	_ core.PaidProbe       = (*ScriptedAdapter)(nil)
)
