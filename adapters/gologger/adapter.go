package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootName = "keyprobe"

// ComponentName scopes a component logger under the keyprobe root name.
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" || component == RootName {
		return RootName
	}
	if strings.HasPrefix(component, RootName+".") {
		return component
	}
	return RootName + "." + component
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(ComponentName(component), provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the component logger and returns it alongside the
// go-job adapters used by queue consumers and scheduler hooks.
func ResolveForJob(
	component string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(component, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
