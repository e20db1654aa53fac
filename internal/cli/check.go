package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-keyprobe/bridge"
	probecommand "github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
)

const pipeBuffer = 256

var (
	checkFlags    runFlags
	checkKeysFile string
	checkIsolated bool
	checkJSON     bool
)

var checkCmd = &cobra.Command{
	Use:   "check [credential...]",
	Short: "Validate a batch of credentials",
	Long: `Validate credentials given as arguments, read from --keys file (one per line),
or read from stdin when the file is "-". Status updates stream as they happen
and a summary is printed when the run completes.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkFlags.provider, "provider", "p", "", "provider id")
	checkCmd.Flags().StringVarP(&checkFlags.model, "model", "m", "", "model to validate against")
	checkCmd.Flags().StringVar(&checkFlags.proxy, "proxy", "", "base URL replacing the provider endpoint")
	checkCmd.Flags().IntVar(&checkFlags.concurrency, "concurrency", 0, "maximum concurrent validations")
	checkCmd.Flags().IntVar(&checkFlags.maxRetries, "max-retries", 0, "maximum retries per credential")
	checkCmd.Flags().BoolVar(&checkFlags.paid, "paid", false, "probe valid credentials for paid access")
	checkCmd.Flags().StringVar(&checkFlags.storeDriver, "store", "", "log store driver (memory, sqlite3, postgres)")
	checkCmd.Flags().StringVar(&checkFlags.storeDSN, "dsn", "", "log store connection string")
	checkCmd.Flags().StringVarP(&checkKeysFile, "keys", "k", "", `file with one credential per line, "-" for stdin`)
	checkCmd.Flags().BoolVar(&checkIsolated, "isolated", false, "run the engine in a child process")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the completion event as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credentials, err := readCredentials(args, checkKeysFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(credentials) == 0 {
		return fmt.Errorf("no credentials given")
	}

	rt, err := openRuntime(ctx, checkFlags)
	if err != nil {
		return err
	}
	defer rt.Close()

	start := startInProcess
	if checkIsolated {
		start = startChild
	}
	conn, shutdown, err := start(ctx, rt)
	if err != nil {
		return err
	}
	defer shutdown()

	host, err := bridge.NewHost(conn,
		bridge.WithHandshakeTimeout(rt.cfg.HandshakeTimeout()),
		bridge.WithRunTimeout(rt.cfg.RunTimeout()),
		bridge.WithHostLoggerProvider(rt.provider),
	)
	if err != nil {
		return err
	}
	if err := host.Handshake(ctx); err != nil {
		return err
	}

	runCfg := rt.cfg.RunConfig()
	out := cmd.OutOrStdout()
	complete, err := host.Run(ctx, probecommand.StartTestingMessage{
		Credentials:       credentials,
		ProviderID:        runCfg.ProviderID,
		Model:             runCfg.Model,
		ProxyEndpoint:     runCfg.ProxyEndpoint,
		ConcurrencyBudget: runCfg.ConcurrencyBudget,
		MaxRetries:        runCfg.MaxRetries,
		EnablePaidProbe:   runCfg.EnablePaidProbe,
	}, func(event core.Event) {
		if !checkJSON {
			printStatus(out, event)
		}
	})
	if err != nil {
		return err
	}
	if checkJSON {
		return writeJSON(out, complete)
	}
	printSummary(out, complete)
	return nil
}

// startInProcess serves the engine on the other end of an in-memory pipe.
func startInProcess(ctx context.Context, rt *runtime) (bridge.Conn, func(), error) {
	hostConn, engineConn := bridge.NewPipe(pipeBuffer)
	controller, err := rt.controller(bridge.NewEventSink(engineConn))
	if err != nil {
		return nil, nil, err
	}
	server, err := bridge.NewServer(engineConn, controller, bridge.WithServerLoggerProvider(rt.provider))
	if err != nil {
		return nil, nil, err
	}

	engineCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(engineCtx)
	group.Go(func() error {
		return server.Serve(groupCtx)
	})
	shutdown := func() {
		_ = controller.Cancel(context.Background())
		cancel()
		_ = hostConn.Close()
		if err := group.Wait(); err != nil {
			core.LogError(ctx, rt.logger, "engine stopped with error", map[string]any{"error": err.Error()})
		}
	}
	return hostConn, shutdown, nil
}

// startChild re-executes this binary as "keyprobe engine" and talks to it
// over its stdin and stdout.
func startChild(ctx context.Context, rt *runtime) (bridge.Conn, func(), error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	args := []string{"engine", "--store", rt.cfg.Store.Driver, "--dsn", rt.cfg.Store.DSN}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	child := exec.CommandContext(ctx, executable, args...)
	child.Stderr = os.Stderr
	stdin, err := child.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := child.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start engine: %w", err)
	}
	core.LogInfo(ctx, rt.logger, "engine process started", map[string]any{"pid": child.Process.Pid})

	conn := bridge.NewStreamConn(stdout, stdin)
	shutdown := func() {
		_ = conn.Close()
		if err := child.Wait(); err != nil {
			core.LogError(ctx, rt.logger, "engine process exited with error", map[string]any{"error": err.Error()})
		}
	}
	return conn, shutdown, nil
}

func readCredentials(args []string, path string, stdin io.Reader) ([]string, error) {
	credentials := append([]string{}, args...)
	if strings.TrimSpace(path) == "" {
		return core.DedupeCredentials(credentials), nil
	}

	var source io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open keys file: %w", err)
		}
		defer file.Close()
		source = file
	}
	scanner := bufio.NewScanner(source)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		credentials = append(credentials, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	return core.DedupeCredentials(credentials), nil
}

// printStatus prints final status updates. Intermediate transitions are only
// shown with --verbose.
func printStatus(out io.Writer, event core.Event) {
	update, ok := event.(core.KeyStatusUpdate)
	if !ok {
		return
	}
	if !update.Status.IsTerminal() && !verbose {
		return
	}
	line := fmt.Sprintf("%-24s %s", core.MaskCredential(update.Credential), update.Status)
	if update.ErrorCode != "" {
		line += " (" + update.ErrorCode + ")"
	}
	fmt.Fprintln(out, line)
}

func printSummary(out io.Writer, complete core.TestingComplete) {
	counters := complete.Counters
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TOTAL\tVALID\tPAID\tINVALID\tRATE LIMITED\tCANCELLED\n")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n",
		counters.Total, counters.Valid, counters.Paid, counters.Invalid, counters.RateLimited, counters.Cancelled)
	_ = w.Flush()
	if complete.Cancelled {
		fmt.Fprintln(out, "run cancelled")
	}
}
