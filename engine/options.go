package engine

import (
	"time"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/eventlog"
	"github.com/goliatone/go-keyprobe/retry"
	"github.com/goliatone/go-keyprobe/scheduler"
)

type Option func(*Controller)

// WithEventSink sets where protocol events are delivered. Without one events
// are dropped.
func WithEventSink(sink core.EventSink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithEventLogger(events *eventlog.Logger) Option {
	return func(c *Controller) {
		if events != nil {
			c.events = events
		}
	}
}

func WithRetryPolicy(policy *retry.Policy) Option {
	return func(c *Controller) {
		if policy != nil {
			c.policy = policy
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(c *Controller) {
		c.loggerProvider = provider
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(c *Controller) {
		c.metrics = metrics
	}
}

// WithSchedulerHook registers a hook notified on every task lifecycle
// transition of every run.
func WithSchedulerHook(hook scheduler.Hook) Option {
	return func(c *Controller) {
		if hook != nil {
			c.hooks = append(c.hooks, hook)
		}
	}
}

// WithAfterFunc replaces the retry timer. Tests use it to collapse delays.
func WithAfterFunc(afterFunc func(time.Duration, func()) scheduler.Stopper) Option {
	return func(c *Controller) {
		c.afterFunc = afterFunc
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}
