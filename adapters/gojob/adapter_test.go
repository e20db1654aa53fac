package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/scheduler"
)

func sampleRun() command.StartTestingMessage {
	return command.StartTestingMessage{
		Credentials:       []string{"sk-a", "sk-b", "sk-a"},
		ProviderID:        "openai",
		Model:             "gpt-4o-mini",
		ProxyEndpoint:     "https://proxy.example.com",
		ConcurrencyBudget: 4,
		MaxRetries:        2,
		EnablePaidProbe:   true,
	}
}

func TestExecutionMessageMappingRoundTrip(t *testing.T) {
	converted := ToExecutionMessage(sampleRun(), "idem-1")
	if converted.JobID != JobIDRun || converted.IdempotencyKey != "idem-1" {
		t.Fatalf("unexpected execution message %+v", converted)
	}
	if string(converted.DedupPolicy) != "drop" {
		t.Fatalf("expected drop dedup policy, got %q", converted.DedupPolicy)
	}

	roundTrip, err := FromExecutionMessage(converted)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if len(roundTrip.Credentials) != 2 || roundTrip.Credentials[0] != "sk-a" || roundTrip.Credentials[1] != "sk-b" {
		t.Fatalf("expected deduped credentials, got %v", roundTrip.Credentials)
	}
	if roundTrip.ProviderID != "openai" || roundTrip.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected provider mapping %+v", roundTrip)
	}
	if roundTrip.ConcurrencyBudget != 4 || roundTrip.MaxRetries != 2 || !roundTrip.EnablePaidProbe {
		t.Fatalf("unexpected run config mapping %+v", roundTrip)
	}
	if roundTrip.ProxyEndpoint != "https://proxy.example.com" {
		t.Fatalf("expected proxy endpoint to survive mapping")
	}
}

func TestFromExecutionMessageAcceptsDecodedJSON(t *testing.T) {
	msg := &job.ExecutionMessage{
		JobID: JobIDRun,
		Parameters: map[string]any{
			"credentials":        []any{"k1", "k2"},
			"provider_id":        "gemini",
			"concurrency_budget": float64(3),
			"max_retries":        float64(1),
		},
	}
	out, err := FromExecutionMessage(msg)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if len(out.Credentials) != 2 || out.ConcurrencyBudget != 3 || out.MaxRetries != 1 {
		t.Fatalf("unexpected decoded message %+v", out)
	}

	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected foreign job id to fail")
	}
	msg.Parameters["credentials"] = []any{1}
	if _, err := FromExecutionMessage(msg); err == nil {
		t.Fatalf("expected non-string credential to fail")
	}
}

func TestEnqueueRunValidates(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewEnqueuerAdapter(enqueuer)
	if err := adapter.EnqueueRun(context.Background(), command.StartTestingMessage{}, ""); err == nil {
		t.Fatalf("expected invalid run to be refused")
	}
	if enqueuer.last != nil {
		t.Fatalf("expected nothing enqueued")
	}
	if err := adapter.EnqueueRun(context.Background(), sampleRun(), ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDRun {
		t.Fatalf("expected mapped go-job message")
	}
	if enqueuer.last.DedupPolicy != "" {
		t.Fatalf("expected no dedup policy without idempotency key")
	}
}

func TestConsumerAcksCompletedRun(t *testing.T) {
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(sampleRun(), "")}
	executor := &stubExecutor{complete: core.TestingComplete{RunID: "run-1"}}
	consumer := NewConsumer(&stubQueueDequeuer{delivery: delivery}, executor, RetryPolicy{})

	complete, err := consumer.ConsumeOne(context.Background(), 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if complete.RunID != "run-1" || !delivery.acked {
		t.Fatalf("expected ack after completed run")
	}
	if executor.cfg.ProviderID != "openai" || len(executor.credentials) != 2 {
		t.Fatalf("unexpected executor input %+v %v", executor.cfg, executor.credentials)
	}
}

func TestConsumerRequeuesWhenRunActive(t *testing.T) {
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(sampleRun(), "")}
	executor := &stubExecutor{err: core.ErrRunActive}
	consumer := NewConsumer(&stubQueueDequeuer{delivery: delivery}, executor, RetryPolicy{MaxAttempts: 3})

	if _, err := consumer.ConsumeOne(context.Background(), 1); !errors.Is(err, core.ErrRunActive) {
		t.Fatalf("expected run active error, got %v", err)
	}
	if !delivery.nackOpts.Requeue || delivery.nackOpts.DeadLetter {
		t.Fatalf("expected requeue, got %+v", delivery.nackOpts)
	}
}

func TestConsumerDeadLettersUndecodableRequest(t *testing.T) {
	delivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "other"}}
	consumer := NewConsumer(&stubQueueDequeuer{delivery: delivery}, &stubExecutor{}, RetryPolicy{})

	if _, err := consumer.ConsumeOne(context.Background(), 1); err == nil {
		t.Fatalf("expected decode error")
	}
	if !delivery.nackOpts.DeadLetter || delivery.nackOpts.Requeue {
		t.Fatalf("expected dead letter, got %+v", delivery.nackOpts)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	}

	opts := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " busy "}, 1)
	if opts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", opts.Delay)
	}
	if !opts.Requeue || opts.Reason != "busy" {
		t.Fatalf("expected requeue before max attempts, got %+v", opts)
	}

	opts = policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if opts.Requeue || !opts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts, got %+v", opts)
	}
}

func TestSchedulerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	hook := &capturingWorkerHook{}
	adapter := NewSchedulerHookAdapter(hook)

	adapter.OnRetry(context.Background(), scheduler.TaskEvent{
		Task:      scheduler.Task{Key: "sk-abcdefghijklmnop", Index: 4, Attempt: 2},
		Delay:     5 * time.Second,
		Err:       errors.New("rate limited"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	})
	if hook.last.Message == nil || hook.last.Message.JobID != JobIDAttempt {
		t.Fatalf("expected attempt job id mapping")
	}
	if credential := hook.last.Message.Parameters["credential"]; credential == "sk-abcdefghijklmnop" {
		t.Fatalf("expected credential to be masked, got %v", credential)
	}
	if hook.last.Message.Parameters["index"] != 4 {
		t.Fatalf("expected index mapping")
	}
	if hook.last.Attempt != 2 || hook.last.Delay != 5*time.Second || hook.last.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected event mapping %+v", hook.last)
	}
	if hook.last.StartedAt.IsZero() || hook.last.Err == nil {
		t.Fatalf("expected started_at and error mapping")
	}

	var nilAdapter *SchedulerHookAdapter
	nilAdapter.OnStart(context.Background(), scheduler.TaskEvent{})
}

type stubExecutor struct {
	credentials []string
	cfg         core.RunConfig
	complete    core.TestingComplete
	err         error
}

func (s *stubExecutor) Run(_ context.Context, credentials []string, cfg core.RunConfig) (core.TestingComplete, error) {
	s.credentials = credentials
	s.cfg = cfg
	return s.complete, s.err
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingWorkerHook struct {
	last worker.Event
}

func (h *capturingWorkerHook) OnStart(context.Context, worker.Event)   {}
func (h *capturingWorkerHook) OnSuccess(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnFailure(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnRetry(_ context.Context, event worker.Event) {
	h.last = event
}
