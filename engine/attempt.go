package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/scheduler"
)

type attemptException struct {
	err   error
	stack string
}

// attempt runs one validation attempt for one credential and turns the
// outcome into a scheduler verdict. Nothing is recorded once ctx is done.
func (c *Controller) attempt(ctx context.Context, r *run, task scheduler.Task) scheduler.Verdict {
	if ctx.Err() != nil {
		return scheduler.Verdict{}
	}
	credential := task.Key
	attempt := task.Attempt
	cfg := r.cfg
	startedAt := c.now()

	if attempt == 1 {
		c.record(ctx, r, credential, core.AttemptEvent{
			Stage:     core.StageTestStart,
			Attempt:   attempt,
			Status:    core.StatusTesting,
			StartedAt: startedAt,
			Model:     cfg.Model,
		}, nil, nil)
	}
	c.record(ctx, r, credential, core.AttemptEvent{
		Stage:     core.StageAttemptStart,
		Attempt:   attempt,
		Status:    core.StatusTesting,
		StartedAt: startedAt,
	}, &core.KeyStatusUpdate{
		Credential: credential,
		Status:     core.StatusTesting,
		Model:      cfg.Model,
		RetryCount: intPtr(attempt - 1),
	}, nil)

	req := core.ProbeRequest{
		Credential:    credential,
		Model:         cfg.Model,
		ProxyEndpoint: cfg.ProxyEndpoint,
	}
	outcome, adapter, exception := c.validate(ctx, cfg.ProviderID, req)
	if ctx.Err() != nil {
		return scheduler.Verdict{}
	}
	if outcome.Model == "" {
		outcome.Model = cfg.Model
	}

	if exception != nil {
		c.record(ctx, r, credential, core.AttemptEvent{
			Stage:     core.StageAttemptException,
			Attempt:   attempt,
			Status:    core.StatusInvalid,
			StartedAt: startedAt,
			Duration:  c.now().Sub(startedAt),
			Err:       exception.err,
			ErrorCode: core.ErrorInternal,
			Stack:     exception.stack,
		}, nil, nil)
	} else {
		c.record(ctx, r, credential, core.AttemptEvent{
			Stage:      core.StageAttemptResult,
			Attempt:    attempt,
			Status:     outcome.Status,
			StartedAt:  startedAt,
			Duration:   c.now().Sub(startedAt),
			Request:    outcome.Request,
			Response:   outcome.Response,
			Err:        outcomeError(outcome),
			ErrorCode:  outcome.ErrorCode,
			StatusCode: outcome.StatusCode,
			Model:      outcome.Model,
		}, nil, nil)
	}

	if outcome.Status == core.StatusValid && cfg.EnablePaidProbe {
		if probe, ok := adapter.(core.PaidProbe); ok {
			outcome = c.probePaid(ctx, r, credential, attempt, probe, req, outcome)
			if ctx.Err() != nil {
				return scheduler.Verdict{}
			}
		}
	}

	decision := c.policy.Decide(outcome, attempt, cfg.MaxRetries)
	c.observer.ObserveOperation(ctx, startedAt, "attempt", outcomeError(outcome), map[string]any{
		"run_id":      r.id,
		"provider_id": cfg.ProviderID,
		"credential":  core.MaskCredential(credential),
		"attempt":     attempt,
		"outcome":     string(outcome.Status),
		"retry":       decision.Retry,
	})

	if decision.Retry {
		c.record(ctx, r, credential, core.AttemptEvent{
			Stage:      core.StageRetryScheduled,
			Attempt:    attempt,
			Status:     core.StatusRetrying,
			StartedAt:  c.now(),
			Err:        outcomeError(outcome),
			ErrorCode:  outcome.ErrorCode,
			StatusCode: outcome.StatusCode,
			Response: map[string]any{
				"next_attempt": decision.NextAttempt,
				"delay_ms":     decision.Delay.Milliseconds(),
			},
		}, &core.KeyStatusUpdate{
			Credential: credential,
			Status:     core.StatusRetrying,
			Error:      outcome.Error,
			ErrorCode:  outcome.ErrorCode,
			Model:      outcome.Model,
			RetryCount: intPtr(attempt),
			StatusCode: statusCodePtr(outcome.StatusCode),
		}, nil)
		return scheduler.Verdict{Retry: true, Delay: decision.Delay}
	}

	final := finalStatus(outcome.Status)
	result := core.CredentialResult{
		Credential: credential,
		Status:     final,
		Error:      outcome.Error,
		ErrorCode:  outcome.ErrorCode,
		StatusCode: outcome.StatusCode,
		Model:      outcome.Model,
		IsPaid:     outcome.IsPaid,
		RetryCount: attempt - 1,
	}
	c.record(ctx, r, credential, core.AttemptEvent{
		Stage:      core.StageFinal,
		Attempt:    attempt,
		Status:     final,
		StartedAt:  c.now(),
		IsFinal:    true,
		Err:        outcomeError(outcome),
		ErrorCode:  outcome.ErrorCode,
		StatusCode: outcome.StatusCode,
		Model:      outcome.Model,
		IsPaid:     outcome.IsPaid,
	}, &core.KeyStatusUpdate{
		Credential: credential,
		Status:     final,
		Error:      outcome.Error,
		ErrorCode:  outcome.ErrorCode,
		Model:      outcome.Model,
		IsPaid:     outcome.IsPaid,
		RetryCount: intPtr(attempt - 1),
		StatusCode: statusCodePtr(outcome.StatusCode),
	}, &result)

	if final == core.StatusInvalid || final == core.StatusRateLimited {
		return scheduler.Verdict{Err: outcomeError(outcome)}
	}
	return scheduler.Verdict{}
}

// validate resolves the adapter at dispatch time and calls it. Adapter
// errors become outcomes and a panic becomes a terminal internal failure.
func (c *Controller) validate(ctx context.Context, providerID string, req core.ProbeRequest) (outcome core.TestOutcome, adapter core.ProviderAdapter, exception *attemptException) {
	adapter, err := c.resolver.Adapter(providerID)
	if err != nil {
		outcome = core.OutcomeFromError(err)
		outcome.Retryable = false
		return outcome, nil, nil
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			exception = &attemptException{
				err:   fmt.Errorf("engine: adapter %q panicked: %v", providerID, recovered),
				stack: string(debug.Stack()),
			}
			outcome = core.TestOutcome{
				Status:    core.StatusInvalid,
				ErrorCode: core.ErrorInternal,
				Error:     exception.err.Error(),
			}
		}
	}()

	outcome, err = adapter.Validate(ctx, req)
	if err != nil {
		outcome = core.OutcomeFromError(err)
	}
	if outcome.Status == "" {
		outcome.Status = core.StatusInvalid
		if outcome.ErrorCode == "" {
			outcome.ErrorCode = core.ErrorInternal
			outcome.Error = "adapter returned no status"
		}
	}
	return outcome, adapter, nil
}

// probePaid upgrades a valid outcome to paid when the probe confirms it. A
// failed or undecided probe leaves the outcome valid.
func (c *Controller) probePaid(
	ctx context.Context,
	r *run,
	credential string,
	attempt int,
	probe core.PaidProbe,
	req core.ProbeRequest,
	outcome core.TestOutcome,
) core.TestOutcome {
	startedAt := c.now()
	result := safeProbe(ctx, probe, req)
	if ctx.Err() != nil {
		return outcome
	}

	status := core.StatusValid
	if result.IsPaid != nil && *result.IsPaid {
		status = core.StatusPaid
	}
	var probeErr error
	if result.Error != "" {
		probeErr = errors.New(result.Error)
	}
	c.record(ctx, r, credential, core.AttemptEvent{
		Stage:      core.StagePaidDetection,
		Attempt:    attempt,
		Status:     status,
		StartedAt:  startedAt,
		Duration:   c.now().Sub(startedAt),
		Request:    result.Request,
		Response:   result.Response,
		Err:        probeErr,
		StatusCode: result.StatusCode,
		Model:      outcome.Model,
		IsPaid:     result.IsPaid,
	}, nil, nil)

	outcome.IsPaid = result.IsPaid
	outcome.Status = status
	return outcome
}

func safeProbe(ctx context.Context, probe core.PaidProbe, req core.ProbeRequest) (result core.PaidResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = core.PaidResult{Error: fmt.Sprintf("paid probe panicked: %v", recovered)}
		}
	}()
	return probe.ProbePaid(ctx, req)
}

// record merges event into the credential's log entry, streams it, and
// applies the optional status update and final result. It does nothing once
// the run is closed or ctx is done.
func (c *Controller) record(
	ctx context.Context,
	r *run,
	credential string,
	event core.AttemptEvent,
	update *core.KeyStatusUpdate,
	result *core.CredentialResult,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() || ctx.Err() != nil {
		return
	}
	state := r.states[credential]
	if state == nil {
		return
	}

	record, entry := c.events.Observe(ctx, credential, event)
	c.emit(ctx, logEvent(entry, record))

	if result != nil {
		state.result = *result
	}
	if update == nil {
		return
	}
	retryCount := 0
	if update.RetryCount != nil {
		retryCount = *update.RetryCount
	}
	if state.started && state.status == update.Status && state.retryCount == retryCount {
		return
	}
	state.started = true
	state.status = update.Status
	state.retryCount = retryCount
	c.emit(ctx, *update)
}

func outcomeError(outcome core.TestOutcome) error {
	if !outcome.Failed() {
		return nil
	}
	message := outcome.Error
	if message == "" {
		message = outcome.ErrorCode
	}
	category := goerrors.CategoryExternal
	switch outcome.ErrorCode {
	case core.ErrorAuth:
		category = goerrors.CategoryAuth
	case core.ErrorRateLimited:
		category = goerrors.CategoryRateLimit
	case core.ErrorUnknownProvider:
		category = goerrors.CategoryNotFound
	case core.ErrorInternal:
		category = goerrors.CategoryInternal
	}
	return core.NewError(message, category, outcome.ErrorCode)
}

// finalStatus maps anything that cannot be final to invalid.
func finalStatus(status core.Status) core.Status {
	if !status.IsTerminal() || status == core.StatusCancelled {
		return core.StatusInvalid
	}
	return status
}

func statusCodePtr(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}
