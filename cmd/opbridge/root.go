package main

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/config"
	"github.com/wippyai/op-bridge/engine"
	"github.com/wippyai/op-bridge/ffi"
	"github.com/wippyai/op-bridge/native"
	"github.com/wippyai/op-bridge/onepassword"
	"github.com/wippyai/op-bridge/telemetry"
)

type flags struct {
	configPath  string
	library     string
	backend     string
	logLevel    string
	metricsAddr string
	json        bool
}

// app carries what every subcommand shares once the root pre-run has
// loaded the configuration.
type app struct {
	flags flags
	cfg   config.Config
	log   *zap.Logger

	out io.Writer
	err io.Writer

	open      opener
	readToken func() (string, error)

	registry *prometheus.Registry
	metrics  *ffi.Metrics
	tracer   *sdktrace.TracerProvider
	stop     context.CancelFunc
}

func newApp() *app {
	return &app{
		out:       os.Stdout,
		err:       os.Stderr,
		open:      openLibrary,
		readToken: promptToken,
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "opbridge",
		Short: "Query 1Password through the SDK core",
		Long: `opbridge loads the 1Password SDK core, either as a shared library or as a
wasm module, and runs vault queries against it with a service account.

The token is read from OP_SERVICE_ACCOUNT_TOKEN, the config file, or
prompted for when stdin is a terminal.`,
		Version:           opbridge.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "config file path")
	pf.StringVar(&a.flags.library, "library", "", "path to the SDK core library or wasm module")
	pf.StringVar(&a.flags.backend, "backend", "", "library backend (auto, native, wasm)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.BoolVar(&a.flags.json, "json", false, "output in JSON format")

	root.AddCommand(
		newCheckCommand(a),
		newVaultsCommand(a),
		newItemsCommand(a),
		newSecretCommand(a),
		newInteractiveCommand(a),
	)
	return root
}

// execute runs the command tree and flushes telemetry even when the
// command failed.
func execute(ctx context.Context, a *app, args []string) error {
	root := newRootCommand(a)
	if args != nil {
		root.SetArgs(args)
	}
	root.SetOut(a.out)
	root.SetErr(a.err)

	err := root.ExecuteContext(ctx)
	if terr := a.teardown(ctx); err == nil {
		err = terr
	}
	return err
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.library != "" {
		cfg.Library.Path = a.flags.library
	}
	if a.flags.backend != "" {
		cfg.Library.Backend = a.flags.backend
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.metricsAddr != "" {
		cfg.Metrics.Addr = a.flags.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	log, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.log = log
	ffi.SetLogger(log.Named("ffi"))
	engine.SetLogger(log.Named("engine"))
	native.SetLogger(log.Named("native"))
	onepassword.SetLogger(log.Named("onepassword"))

	ctx, stop := context.WithCancel(cmd.Context())
	a.stop = stop

	a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Tracing, telemetry.WithWriter(a.err), telemetry.WithGlobal())
	if err != nil {
		return err
	}

	a.registry = telemetry.NewRegistry()
	a.metrics, err = ffi.NewMetrics(a.registry, cfg.Metrics.Namespace)
	if err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := telemetry.ServeMetrics(ctx, cfg.Metrics.Addr, a.registry, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.stop != nil {
		a.stop()
	}
	a.metrics.Close()
	var err error
	if a.tracer != nil {
		err = a.tracer.Shutdown(context.WithoutCancel(ctx))
	}
	if a.log != nil {
		a.log.Sync()
	}
	return err
}
