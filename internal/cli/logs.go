package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/goliatone/go-command"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-keyprobe/adapters/gocommand"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/query"
)

var logsFlags runFlags

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the stored log entries as JSON",
	Long: `Print every log entry kept by the configured durable store, oldest first.
The memory store keeps nothing between invocations.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var modelsFlags runFlags

var modelsCmd = &cobra.Command{
	Use:   "models <credential>",
	Short: "List the models a credential can reach",
	Args:  cobra.ExactArgs(1),
	RunE:  runModels,
}

func init() {
	logsCmd.Flags().StringVar(&logsFlags.storeDriver, "store", "", "log store driver (sqlite3, postgres)")
	logsCmd.Flags().StringVar(&logsFlags.storeDSN, "dsn", "", "log store connection string")

	modelsCmd.Flags().StringVarP(&modelsFlags.provider, "provider", "p", "", "provider id")
	modelsCmd.Flags().StringVar(&modelsFlags.proxy, "proxy", "", "base URL replacing the provider endpoint")
}

func runLogs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, release, err := openDispatcher(ctx, logsFlags)
	if err != nil {
		return err
	}
	defer release()
	if rt.store == nil {
		core.LogWithLevel(ctx, rt.logger, "warn", "memory store keeps no logs between runs", nil)
	}

	snapshot, err := gocommand.Query[query.GetLogsMessage, core.LogsSnapshot](ctx, query.GetLogsMessage{})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), snapshot.Entries)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, release, err := openDispatcher(ctx, modelsFlags)
	if err != nil {
		return err
	}
	defer release()

	listed, err := gocommand.Query[query.ListModelsMessage, core.ModelsListed](ctx, query.ListModelsMessage{
		ProviderID:    rt.cfg.Run.ProviderID,
		Credential:    args[0],
		ProxyEndpoint: rt.cfg.Run.ProxyEndpoint,
	})
	if err != nil {
		return err
	}
	if listed.Error != "" {
		return fmt.Errorf("%s: %s", listed.ProviderID, listed.Error)
	}
	for _, model := range listed.Models {
		fmt.Fprintln(cmd.OutOrStdout(), model)
	}
	return nil
}

// openDispatcher opens the runtime and binds a controller to the go-command
// dispatcher so queries can be answered in-process.
func openDispatcher(ctx context.Context, flags runFlags) (*runtime, func(), error) {
	rt, err := openRuntime(ctx, flags)
	if err != nil {
		return nil, nil, err
	}
	controller, err := rt.controller(nil)
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := gocommand.RegisterRunHandlers(adapter, controller)
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	if err := adapter.Initialize(); err != nil {
		subscriptions.Unsubscribe()
		_ = rt.Close()
		return nil, nil, err
	}
	release := func() {
		subscriptions.Unsubscribe()
		_ = rt.Close()
	}
	return rt, release, nil
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
