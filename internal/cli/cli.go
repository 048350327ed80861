package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"agent-console/internal/client"
	"agent-console/internal/hub"
	"agent-console/internal/kv"
	"agent-console/internal/metrics"
	"agent-console/internal/utils"
)

// Run executes the command line and returns the process exit code.
func Run() int {
	ctx, cancel := contextWithSignals()
	defer cancel()
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

type options struct {
	configPath string
	apiURL     string
	dataDir    string
	storage    string
	verbose    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "agent-console",
		Short: "Chat with a remote agent and approve its actions",
		Long: `agent-console drives sessions on a remote agent service.

Start a session with a goal, follow the agent's decisions as they arrive,
send follow-up messages and approve or reject actions that need sign-off.
Running without a command opens the interactive console.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          opts.withApp(true, runTUI),
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	flags.StringVar(&opts.apiURL, "api-url", "", "agent service base URL")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory for local state")
	flags.StringVar(&opts.storage, "storage", "", "storage driver: file|sqlite|memory")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newTUICmd(opts),
		newStartCmd(opts),
		newSendCmd(opts),
		newResolveCmd(opts, true),
		newResolveCmd(opts, false),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newHistoryCmd(opts),
		newAttachCmd(opts),
		newClearCmd(opts),
		newToolsCmd(opts),
		newFakeServiceCmd(opts),
	)
	return root
}

// loadConfig applies command line overrides on top of LoadConfig.
func (o *options) loadConfig() (hub.Config, error) {
	path := o.configPath
	if path == "" && o.dataDir != "" {
		candidate := filepath.Join(o.dataDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := hub.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.storage != "" {
		cfg.Storage.Driver = o.storage
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

type app struct {
	cfg         hub.Config
	logger      *utils.Logger
	kv          kv.Store
	api         *client.Client
	store       *hub.Store
	coordinator *hub.Coordinator
	poller      *hub.Poller
	shutdown    func(context.Context) error
}

// newApp wires the sync core. With logToFile set, logs go to the configured
// log file so they do not draw over the terminal UI.
func newApp(ctx context.Context, cfg hub.Config, stderr io.Writer, logToFile bool) (*app, error) {
	var logger *utils.Logger
	if logToFile {
		fileLogger, err := utils.NewFileLogger(cfg.LogPath(), cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, err
		}
		logger = fileLogger
	} else {
		logger = utils.NewLoggerTo(stderr, cfg.Logging.Level, cfg.Logging.Format)
	}

	a := &app{cfg: cfg, logger: logger, shutdown: func(context.Context) error { return nil }}
	store, err := kv.Open(cfg.Storage.Driver, cfg.StoragePath())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.kv = store

	rec, shutdown, err := metrics.Setup(ctx, metrics.Config{
		Enabled:  cfg.Metrics.Enabled,
		Endpoint: cfg.Metrics.Endpoint,
		Insecure: cfg.Metrics.Insecure,
	})
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
		rec = nil
	} else {
		a.shutdown = shutdown
	}

	a.api = client.New(cfg.API.BaseURL, client.WithTimeout(cfg.API.Timeout))
	a.store, err = hub.NewStore(ctx, store, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.coordinator = hub.NewCoordinator(a.api, a.store, logger,
		hub.WithRollback(cfg.Sync.RollbackOnContinueFailure),
		hub.WithMetrics(rec),
	)
	a.poller = hub.NewPoller(a.api, a.store, hub.PollerConfigFrom(cfg), logger, rec)
	logger.Debug("console ready", "api", cfg.API.BaseURL, "storage", cfg.Storage.Driver, "path", cfg.StoragePath())
	return a, nil
}

func (a *app) close() {
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("metrics shutdown failed", "error", err)
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("failed to close storage", "error", err)
		}
	}
	_ = a.logger.Close()
}

type appFunc func(cmd *cobra.Command, args []string, a *app) error

// withApp builds the app for one command invocation and tears it down after.
func (o *options) withApp(logToFile bool, fn appFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := o.loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr(), logToFile)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args, a)
	}
}

func contextWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var errNoSession = errors.New("no active session; run `agent-console start <goal>` first")
