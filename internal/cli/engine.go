package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-keyprobe/bridge"
	"github.com/goliatone/go-keyprobe/core"
)

var engineFlags runFlags

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Serve the validation engine over stdin/stdout",
	Long: `Run the validation engine as a child process. Messages arrive as JSON lines
on stdin and events are written as JSON lines on stdout. Diagnostics go to stderr.`,
	Args:   cobra.NoArgs,
	Hidden: true,
	RunE:   runEngine,
}

func init() {
	engineCmd.Flags().StringVar(&engineFlags.storeDriver, "store", "", "log store driver (memory, sqlite3, postgres)")
	engineCmd.Flags().StringVar(&engineFlags.storeDSN, "dsn", "", "log store connection string")
}

func runEngine(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, engineFlags)
	if err != nil {
		return err
	}
	defer rt.Close()

	conn := bridge.NewStreamConn(cmd.InOrStdin(), cmd.OutOrStdout())
	defer conn.Close()
	controller, err := rt.controller(bridge.NewEventSink(conn))
	if err != nil {
		return err
	}
	server, err := bridge.NewServer(conn, controller, bridge.WithServerLoggerProvider(rt.provider))
	if err != nil {
		return err
	}

	core.LogInfo(ctx, rt.logger, "engine serving on stdio", nil)
	err = server.Serve(ctx)
	_ = controller.Cancel(ctx)
	return err
}
