package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/scheduler"
)

const (
	JobIDRun     = "keyprobe.run"
	JobIDAttempt = "keyprobe.attempt"

	scriptPathRun     = "keyprobe/run"
	scriptPathAttempt = "keyprobe/attempt"
)

// RetryPolicy bounds how a failed run request is nacked back to the queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a run request onto a go-job execution message.
func ToExecutionMessage(msg command.StartTestingMessage, idempotencyKey string) *job.ExecutionMessage {
	credentials := core.DedupeCredentials(msg.Credentials)
	params := map[string]any{
		"credentials":        credentials,
		"provider_id":        strings.TrimSpace(msg.ProviderID),
		"model":              strings.TrimSpace(msg.Model),
		"concurrency_budget": msg.ConcurrencyBudget,
		"max_retries":        msg.MaxRetries,
		"enable_paid_probe":  msg.EnablePaidProbe,
	}
	if endpoint := strings.TrimSpace(msg.ProxyEndpoint); endpoint != "" {
		params["proxy_endpoint"] = endpoint
	}
	out := &job.ExecutionMessage{
		JobID:          JobIDRun,
		ScriptPath:     scriptPathRun,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
	if out.IdempotencyKey != "" {
		out.DedupPolicy = job.DeduplicationPolicy("drop")
	}
	return out
}

// FromExecutionMessage restores a run request. Parameters may come back from
// a JSON backed queue, so numbers and lists are accepted in decoded form.
func FromExecutionMessage(msg *job.ExecutionMessage) (command.StartTestingMessage, error) {
	if msg == nil {
		return command.StartTestingMessage{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRun {
		return command.StartTestingMessage{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	params := msg.Parameters
	credentials, err := stringList(params["credentials"])
	if err != nil {
		return command.StartTestingMessage{}, err
	}
	out := command.StartTestingMessage{
		Credentials:       credentials,
		ProviderID:        stringParam(params, "provider_id"),
		Model:             stringParam(params, "model"),
		ProxyEndpoint:     stringParam(params, "proxy_endpoint"),
		ConcurrencyBudget: intParam(params, "concurrency_budget"),
		MaxRetries:        intParam(params, "max_retries"),
	}
	if paid, ok := params["enable_paid_probe"].(bool); ok {
		out.EnablePaidProbe = paid
	}
	return out, nil
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

// EnqueueRun validates msg and hands it to the queue for a later worker.
func (a *EnqueuerAdapter) EnqueueRun(ctx context.Context, msg command.StartTestingMessage, idempotencyKey string) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg, idempotencyKey))
}

// RunExecutor is the part of the run controller a queue consumer drives.
type RunExecutor interface {
	Run(ctx context.Context, credentials []string, cfg core.RunConfig) (core.TestingComplete, error)
}

// Consumer drains queued run requests one at a time into a RunExecutor.
type Consumer struct {
	dequeuer   queue.Dequeuer
	policy     RetryPolicy
	executor   RunExecutor
	retryDelay time.Duration
}

func NewConsumer(dequeuer queue.Dequeuer, executor RunExecutor, policy RetryPolicy) *Consumer {
	return &Consumer{
		dequeuer:   dequeuer,
		executor:   executor,
		policy:     policy,
		retryDelay: time.Second,
	}
}

// ConsumeOne dequeues and executes a single run request. A run that finds
// another run active is requeued; an undecodable request is dead lettered.
func (c *Consumer) ConsumeOne(ctx context.Context, attempt int) (core.TestingComplete, error) {
	if c == nil || c.dequeuer == nil || c.executor == nil {
		return core.TestingComplete{}, fmt.Errorf("gojob: consumer is not configured")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.TestingComplete{}, err
	}
	msg, err := FromExecutionMessage(delivery.Message())
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		nackErr := delivery.Nack(ctx, c.policy.NormalizeAttempt(queue.NackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		}, attempt))
		return core.TestingComplete{}, errors.Join(err, nackErr)
	}

	complete, err := c.executor.Run(ctx, msg.Credentials, msg.RunConfig())
	if err != nil {
		opts := queue.NackOptions{Reason: err.Error(), DeadLetter: true}
		if errors.Is(err, core.ErrRunActive) {
			opts = queue.NackOptions{Reason: err.Error(), Requeue: true, Delay: c.retryDelay}
		}
		nackErr := delivery.Nack(ctx, c.policy.NormalizeAttempt(opts, attempt))
		return core.TestingComplete{}, errors.Join(err, nackErr)
	}
	return complete, delivery.Ack(ctx)
}

// SchedulerHookAdapter reports scheduler task transitions to a go-job worker
// hook, one execution message per credential attempt.
type SchedulerHookAdapter struct {
	hook worker.Hook
}

func NewSchedulerHookAdapter(hook worker.Hook) *SchedulerHookAdapter {
	return &SchedulerHookAdapter{hook: hook}
}

func (a *SchedulerHookAdapter) OnStart(ctx context.Context, event scheduler.TaskEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapTaskEvent(event))
}

func (a *SchedulerHookAdapter) OnSuccess(ctx context.Context, event scheduler.TaskEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapTaskEvent(event))
}

func (a *SchedulerHookAdapter) OnFailure(ctx context.Context, event scheduler.TaskEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapTaskEvent(event))
}

func (a *SchedulerHookAdapter) OnRetry(ctx context.Context, event scheduler.TaskEvent) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapTaskEvent(event))
}

func mapTaskEvent(event scheduler.TaskEvent) worker.Event {
	return worker.Event{
		Message: &job.ExecutionMessage{
			JobID:      JobIDAttempt,
			ScriptPath: scriptPathAttempt,
			Parameters: map[string]any{
				"credential": core.MaskCredential(event.Task.Key),
				"index":      event.Task.Index,
			},
		},
		Attempt:   event.Task.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// LoggingHook writes worker lifecycle events to a go-job logger.
type LoggingHook struct {
	logger job.Logger
}

func NewLoggingHook(logger job.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.log("job started", event)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.log("job succeeded", event)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.log("job failed", event)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.log("job retry scheduled", event)
}

func (h *LoggingHook) log(message string, event worker.Event) {
	if h == nil || h.logger == nil {
		return
	}
	args := []any{"attempt", event.Attempt}
	if event.Message != nil {
		args = append(args, "job_id", event.Message.JobID)
		if credential, ok := event.Message.Parameters["credential"]; ok {
			args = append(args, "credential", credential)
		}
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	h.logger.Info(message, args...)
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func intParam(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func stringList(value any) ([]string, error) {
	switch typed := value.(type) {
	case []string:
		return append([]string(nil), typed...), nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("gojob: credentials must be strings")
			}
			out = append(out, text)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("gojob: credentials must be a list")
	}
}

var (
	_ scheduler.Hook = (*SchedulerHookAdapter)(nil)
	_ worker.Hook    = (*LoggingHook)(nil)
)
