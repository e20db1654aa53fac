package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// ResolveLogger applies provider > logger > nop precedence.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	_, resolved := glog.Resolve(name, provider, logger)
	return glog.Ensure(resolved)
}

// Observer records one log line plus a counter and a duration histogram per
// operation.
type Observer struct {
	Prefix  string
	Logger  Logger
	Metrics MetricsRecorder
}

func NewObserver(logger Logger, metrics MetricsRecorder) *Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &Observer{Prefix: "keyprobe", Logger: glog.Ensure(logger), Metrics: metrics}
}

func (o *Observer) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if o == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt).Milliseconds()

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed
	if err != nil {
		enrichErrorFields(contextFields, err)
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"provider_id", "outcome"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	prefix := strings.TrimSpace(o.Prefix)
	if prefix == "" {
		prefix = "keyprobe"
	}
	if o.Metrics != nil {
		o.Metrics.IncCounter(ctx, prefix+"."+operation+".total", 1, cloneTags(tags))
		o.Metrics.ObserveHistogram(ctx, prefix+"."+operation+".duration_ms", float64(elapsed), cloneTags(tags))
	}

	if err != nil {
		LogError(ctx, o.Logger, operation+" failed", contextFields)
		return
	}
	LogInfo(ctx, o.Logger, operation+" succeeded", contextFields)
}

func enrichErrorFields(fields map[string]any, err error) {
	fields["error"] = err.Error()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return
	}
	fields["error_category"] = string(rich.Category)
	if rich.TextCode != "" {
		fields["error_text_code"] = rich.TextCode
	}
	if len(rich.Metadata) > 0 {
		fields["error_metadata"] = RedactSensitiveMap(rich.Metadata)
	}
}

func LogInfo(ctx context.Context, logger Logger, message string, fields map[string]any) {
	LogWithLevel(ctx, logger, "info", message, fields)
}

func LogError(ctx context.Context, logger Logger, message string, fields map[string]any) {
	LogWithLevel(ctx, logger, "error", message, fields)
}

func LogWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
