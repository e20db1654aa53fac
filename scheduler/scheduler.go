package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

type TaskState string

const (
	TaskQueued         TaskState = "queued"
	TaskRunning        TaskState = "running"
	TaskRetryScheduled TaskState = "retry_scheduled"
	TaskFinished       TaskState = "finished"
	TaskCancelled      TaskState = "cancelled"
)

type Task struct {
	Key     string
	Index   int
	Attempt int
}

// Verdict is what a Runner reports for one attempt.
type Verdict struct {
	Retry bool
	Delay time.Duration
	Err   error
}

type Runner interface {
	Run(ctx context.Context, task Task) Verdict
}

type RunnerFunc func(ctx context.Context, task Task) Verdict

func (f RunnerFunc) Run(ctx context.Context, task Task) Verdict {
	return f(ctx, task)
}

type TaskEvent struct {
	Task      Task
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Hook observes task lifecycle transitions. Calls are made from the
// dispatcher goroutine and must not block.
type Hook interface {
	OnStart(ctx context.Context, event TaskEvent)
	OnSuccess(ctx context.Context, event TaskEvent)
	OnFailure(ctx context.Context, event TaskEvent)
	OnRetry(ctx context.Context, event TaskEvent)
}

type Report struct {
	// Completed lists keys in the order they reached a final verdict.
	Completed []string
	// Outstanding lists keys, in input order, that never reached a final
	// verdict because the run was cancelled.
	Outstanding []string
	Cancelled   bool
	States      map[string]TaskState
}

type Option func(*Scheduler)

func WithHook(hook Hook) Option {
	return func(s *Scheduler) {
		s.hook = hook
	}
}

// WithAfterFunc replaces time.AfterFunc for retry delays.
func WithAfterFunc(fn func(time.Duration, func()) Stopper) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.afterFunc = fn
		}
	}
}

type Stopper interface {
	Stop() bool
}

// Scheduler runs tasks with at most Budget attempts in flight. A single
// dispatcher goroutine owns the queue and the running count; a retry delay
// releases its slot immediately and re-enqueues the task when it fires.
type Scheduler struct {
	budget    int
	runner    Runner
	hook      Hook
	afterFunc func(time.Duration, func()) Stopper
}

func New(budget int, runner Runner, opts ...Option) (*Scheduler, error) {
	if budget < 1 {
		return nil, fmt.Errorf("scheduler: concurrency budget must be at least 1")
	}
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	s := &Scheduler{
		budget: budget,
		runner: runner,
		afterFunc: func(d time.Duration, f func()) Stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type taskResult struct {
	task      Task
	verdict   Verdict
	startedAt time.Time
	duration  time.Duration
}

// Run blocks until every key reaches a final verdict or ctx is cancelled.
// On cancellation it stops dequeuing and returns at once; results of tasks
// still in flight are discarded.
func (s *Scheduler) Run(ctx context.Context, keys []string) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	states := make(map[string]TaskState, len(keys))
	queue := make([]Task, 0, len(keys))
	for index, key := range keys {
		if _, exists := states[key]; exists {
			continue
		}
		states[key] = TaskQueued
		queue = append(queue, Task{Key: key, Index: index, Attempt: 1})
	}
	report := Report{Completed: make([]string, 0, len(queue)), States: states}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	// results never blocks a worker: at most budget tasks are in flight.
	results := make(chan taskResult, s.budget)
	// requeue never blocks a timer: each key has at most one pending retry.
	requeue := make(chan Task, len(queue)+1)
	timers := map[string]Stopper{}
	running := 0

	for {
		for ctx.Err() == nil && running < s.budget && len(queue) > 0 {
			task := queue[0]
			queue = queue[1:]
			running++
			states[task.Key] = TaskRunning
			s.notify(ctx, "start", TaskEvent{Task: task, StartedAt: time.Now().UTC()})
			go s.execute(workerCtx, task, results)
		}
		if ctx.Err() == nil && running == 0 && len(queue) == 0 && len(timers) == 0 {
			return report
		}

		select {
		case <-ctx.Done():
			for _, timer := range timers {
				timer.Stop()
			}
			cancelWorkers()
			report.Cancelled = true
			for _, key := range keys {
				switch states[key] {
				case TaskFinished, TaskCancelled:
				default:
					states[key] = TaskCancelled
					report.Outstanding = append(report.Outstanding, key)
				}
			}
			return report
		case result := <-results:
			running--
			if ctx.Err() != nil {
				continue
			}
			event := TaskEvent{
				Task:      result.task,
				Delay:     result.verdict.Delay,
				Err:       result.verdict.Err,
				StartedAt: result.startedAt,
				Duration:  result.duration,
			}
			if result.verdict.Retry {
				next := result.task
				next.Attempt++
				states[next.Key] = TaskRetryScheduled
				delay := result.verdict.Delay
				if delay < 0 {
					delay = 0
				}
				timers[next.Key] = s.afterFunc(delay, func() { requeue <- next })
				s.notify(ctx, "retry", event)
				continue
			}
			states[result.task.Key] = TaskFinished
			report.Completed = append(report.Completed, result.task.Key)
			if result.verdict.Err != nil {
				s.notify(ctx, "failure", event)
			} else {
				s.notify(ctx, "success", event)
			}
		case task := <-requeue:
			delete(timers, task.Key)
			if ctx.Err() != nil {
				continue
			}
			states[task.Key] = TaskQueued
			queue = append(queue, task)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, task Task, results chan<- taskResult) {
	startedAt := time.Now().UTC()
	verdict := s.safeRun(ctx, task)
	results <- taskResult{
		task:      task,
		verdict:   verdict,
		startedAt: startedAt,
		duration:  time.Since(startedAt),
	}
}

func (s *Scheduler) safeRun(ctx context.Context, task Task) (verdict Verdict) {
	defer func() {
		if recovered := recover(); recovered != nil {
			verdict = Verdict{Err: &PanicError{Value: recovered, Stack: string(debug.Stack())}}
		}
	}()
	return s.runner.Run(ctx, task)
}

func (s *Scheduler) notify(ctx context.Context, kind string, event TaskEvent) {
	if s.hook == nil {
		return
	}
	switch kind {
	case "start":
		s.hook.OnStart(ctx, event)
	case "retry":
		s.hook.OnRetry(ctx, event)
	case "failure":
		s.hook.OnFailure(ctx, event)
	default:
		s.hook.OnSuccess(ctx, event)
	}
}

// PanicError carries a value recovered from a runner.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduler: task panicked: %v", e.Value)
}

// Hooks fans every notification out to each non-nil hook in order.
type Hooks []Hook

func (h Hooks) OnStart(ctx context.Context, event TaskEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnStart(ctx, event)
		}
	}
}

func (h Hooks) OnSuccess(ctx context.Context, event TaskEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnSuccess(ctx, event)
		}
	}
}

func (h Hooks) OnFailure(ctx context.Context, event TaskEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnFailure(ctx, event)
		}
	}
}

func (h Hooks) OnRetry(ctx context.Context, event TaskEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnRetry(ctx, event)
		}
	}
}

var _ Hook = Hooks(nil)
