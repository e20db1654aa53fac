package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingHook struct {
	mu       sync.Mutex
	starts   []Task
	retries  []Task
	success  []Task
	failures []TaskEvent
}

func (h *recordingHook) OnStart(_ context.Context, event TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, event.Task)
}

func (h *recordingHook) OnSuccess(_ context.Context, event TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.success = append(h.success, event.Task)
}

func (h *recordingHook) OnFailure(_ context.Context, event TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, event)
}

func (h *recordingHook) OnRetry(_ context.Context, event TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, event.Task)
}

func keys(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("key-%02d", i))
	}
	return out
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	runner := RunnerFunc(func(context.Context, Task) Verdict { return Verdict{} })
	if _, err := New(0, runner); err == nil {
		t.Fatalf("expected budget error")
	}
	if _, err := New(1, nil); err == nil {
		t.Fatalf("expected runner error")
	}
}

func TestRunBoundsInFlightAttempts(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	runner := RunnerFunc(func(ctx context.Context, task Task) Verdict {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			previous := maxInFlight.Load()
			if current <= previous || maxInFlight.CompareAndSwap(previous, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return Verdict{}
	})
	s, err := New(3, runner)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	report := s.Run(context.Background(), keys(20))
	if report.Cancelled {
		t.Fatalf("expected run to complete")
	}
	if len(report.Completed) != 20 {
		t.Fatalf("expected 20 completed keys, got %d", len(report.Completed))
	}
	if got := maxInFlight.Load(); got > 3 {
		t.Fatalf("expected at most 3 in flight, got %d", got)
	}
	for key, state := range report.States {
		if state != TaskFinished {
			t.Fatalf("expected %s finished, got %s", key, state)
		}
	}
}

func TestRunRetriesUntilVerdictIsFinal(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	runner := RunnerFunc(func(_ context.Context, task Task) Verdict {
		mu.Lock()
		attempts[task.Key] = task.Attempt
		mu.Unlock()
		return Verdict{Retry: task.Attempt < 3}
	})
	hook := &recordingHook{}
	s, err := New(2, runner, WithHook(hook))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	report := s.Run(context.Background(), []string{"a", "b"})
	if len(report.Completed) != 2 {
		t.Fatalf("expected 2 completed keys, got %v", report.Completed)
	}
	if attempts["a"] != 3 || attempts["b"] != 3 {
		t.Fatalf("expected 3 attempts per key, got %v", attempts)
	}
	if len(hook.retries) != 4 {
		t.Fatalf("expected 4 retry notifications, got %d", len(hook.retries))
	}
	if len(hook.starts) != 6 {
		t.Fatalf("expected 6 start notifications, got %d", len(hook.starts))
	}
	if len(hook.success) != 2 {
		t.Fatalf("expected 2 success notifications, got %d", len(hook.success))
	}
}

func TestRetryDelayReleasesSlot(t *testing.T) {
	var mu sync.Mutex
	order := []string{}
	runner := RunnerFunc(func(_ context.Context, task Task) Verdict {
		mu.Lock()
		order = append(order, fmt.Sprintf("%s#%d", task.Key, task.Attempt))
		mu.Unlock()
		if task.Key == "slow" && task.Attempt == 1 {
			return Verdict{Retry: true, Delay: 40 * time.Millisecond}
		}
		return Verdict{}
	})
	s, err := New(1, runner)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	report := s.Run(context.Background(), []string{"slow", "fast"})
	if len(report.Completed) != 2 {
		t.Fatalf("expected 2 completed keys, got %v", report.Completed)
	}
	want := []string{"slow#1", "fast#1", "slow#2"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if report.Completed[0] != "fast" {
		t.Fatalf("expected fast to complete first, got %v", report.Completed)
	}
}

func TestRunIgnoresDuplicateKeys(t *testing.T) {
	var calls atomic.Int64
	runner := RunnerFunc(func(context.Context, Task) Verdict {
		calls.Add(1)
		return Verdict{}
	})
	s, _ := New(2, runner)

	report := s.Run(context.Background(), []string{"a", "b", "a"})
	if calls.Load() != 2 {
		t.Fatalf("expected 2 runs, got %d", calls.Load())
	}
	if len(report.Completed) != 2 {
		t.Fatalf("expected 2 completed keys, got %v", report.Completed)
	}
}

func TestRunCancellationReturnsOutstandingKeys(t *testing.T) {
	started := make(chan struct{}, 1)
	runner := RunnerFunc(func(ctx context.Context, task Task) Verdict {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return Verdict{Err: ctx.Err()}
	})
	s, _ := New(1, runner)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Report, 1)
	go func() { done <- s.Run(ctx, []string{"a", "b", "c"}) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("runner never started")
	}
	cancel()

	var report Report
	select {
	case report = <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not return after cancellation")
	}
	if !report.Cancelled {
		t.Fatalf("expected cancelled report")
	}
	if len(report.Completed) != 0 {
		t.Fatalf("expected no completed keys, got %v", report.Completed)
	}
	want := []string{"a", "b", "c"}
	if len(report.Outstanding) != len(want) {
		t.Fatalf("expected outstanding %v, got %v", want, report.Outstanding)
	}
	for i := range want {
		if report.Outstanding[i] != want[i] {
			t.Fatalf("expected outstanding %v, got %v", want, report.Outstanding)
		}
		if report.States[want[i]] != TaskCancelled {
			t.Fatalf("expected %s cancelled, got %s", want[i], report.States[want[i]])
		}
	}
}

func TestRunCancellationStopsPendingRetry(t *testing.T) {
	var calls atomic.Int64
	retried := make(chan struct{}, 1)
	runner := RunnerFunc(func(context.Context, Task) Verdict {
		calls.Add(1)
		select {
		case retried <- struct{}{}:
		default:
		}
		return Verdict{Retry: true, Delay: time.Hour}
	})
	s, _ := New(1, runner)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Report, 1)
	go func() { done <- s.Run(ctx, []string{"a"}) }()
	<-retried
	time.Sleep(10 * time.Millisecond)
	cancel()

	report := <-done
	if !report.Cancelled || len(report.Outstanding) != 1 {
		t.Fatalf("expected a outstanding after cancel, got %+v", report)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestRunRecoversRunnerPanic(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, task Task) Verdict {
		if task.Key == "boom" {
			panic("adapter exploded")
		}
		return Verdict{}
	})
	hook := &recordingHook{}
	s, _ := New(2, runner, WithHook(hook))

	report := s.Run(context.Background(), []string{"boom", "ok"})
	if len(report.Completed) != 2 {
		t.Fatalf("expected both keys completed, got %v", report.Completed)
	}
	if len(hook.failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(hook.failures))
	}
	var panicErr *PanicError
	if !errors.As(hook.failures[0].Err, &panicErr) {
		t.Fatalf("expected PanicError, got %T", hook.failures[0].Err)
	}
	if panicErr.Stack == "" {
		t.Fatalf("expected captured stack")
	}
}

func TestRunWithNoKeysReturnsImmediately(t *testing.T) {
	s, _ := New(1, RunnerFunc(func(context.Context, Task) Verdict { return Verdict{} }))
	report := s.Run(context.Background(), nil)
	if report.Cancelled || len(report.Completed) != 0 || len(report.Outstanding) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}
