package cli

import (
	"io"

	glog "github.com/goliatone/go-logger/glog"
)

// newLoggerProvider returns a console go-logger writing to out at debug level
// when verbose, otherwise a nop provider.
func newLoggerProvider(out io.Writer, verbose bool) glog.LoggerProvider {
	if !verbose {
		return glog.ProviderFromLogger(glog.Nop())
	}
	return glog.NewLogger(
		glog.WithWriter(out),
		glog.WithName("keyprobe"),
		glog.WithLoggerTypeConsole(),
		glog.WithLevel("debug"),
	)
}
