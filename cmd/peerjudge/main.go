package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/peerjudge/internal/config"
	"github.com/dshills/peerjudge/internal/dataset"
	"github.com/dshills/peerjudge/internal/logging"
	"github.com/dshills/peerjudge/internal/metrics"
	"github.com/dshills/peerjudge/internal/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitCodeError        = 1
	exitCodeBadInput     = 3
	exitCodePrecondition = 4
	exitCodeInterrupted  = 130
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func badInput(err error) error { return &exitError{code: exitCodeBadInput, err: err} }

// exitCodeFor maps an error returned by a command to a process exit code.
func exitCodeFor(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, context.Canceled):
		return exitCodeInterrupted
	case errors.Is(err, pipeline.ErrMissingPrecondition):
		return exitCodePrecondition
	case errors.Is(err, dataset.ErrEmpty):
		return exitCodeBadInput
	}
	return exitCodeError
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "peerjudge:", err)
		os.Exit(exitCodeFor(err))
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	envFile     string
	dataDir     string
	source      string
	seed        int64
	concurrency int
	logLevel    string
	logFormat   string
	logFile     string
	debug       bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "peerjudge",
		Short:         "Resumable blind A/B evaluation of generated peer reviews",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file (default "+config.DefaultFile+" if present)")
	pf.StringVar(&g.envFile, "env-file", "", "dotenv file with API keys (default .env if present)")
	pf.StringVar(&g.dataDir, "data-dir", "", "directory holding every stage output")
	pf.StringVar(&g.source, "source", "", "raw source JSONL for the build-pairs stage")
	pf.Int64Var(&g.seed, "seed", 0, "seed for A/B assignment and sampling")
	pf.IntVar(&g.concurrency, "concurrency", 0, "collaborator calls in flight per stage")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "", "text or json")
	pf.StringVar(&g.logFile, "log-file", "", "also write JSON logs to this file")
	pf.BoolVar(&g.debug, "debug", false, "log full prompts")

	root.AddCommand(newRunCmd(&g), newStatusCmd(&g), newSummarizeCmd(&g))
	return root
}

// overrides returns only the flags the user actually set.
func (g *globalFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	f := cmd.Flags()
	if f.Changed("data-dir") {
		o.DataDir = &g.dataDir
	}
	if f.Changed("source") {
		o.Source = &g.source
	}
	if f.Changed("seed") {
		o.Seed = &g.seed
	}
	if f.Changed("concurrency") {
		o.Concurrency = &g.concurrency
	}
	if f.Changed("log-level") {
		o.LogLevel = &g.logLevel
	}
	if f.Changed("log-format") {
		o.LogFormat = &g.logFormat
	}
	if f.Changed("log-file") {
		o.LogFile = &g.logFile
	}
	if f.Changed("debug") {
		o.Debug = &g.debug
	}
	return o
}

// app is everything a subcommand needs, built from the flags.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	pipe    *pipeline.Pipeline
	close   func() error
}

func (g *globalFlags) setup(cmd *cobra.Command) (*app, error) {
	return g.build(cmd, false)
}

// setupReadOnly is setup without the log file mirror, so nothing on disk is
// created or touched.
func (g *globalFlags) setupReadOnly(cmd *cobra.Command) (*app, error) {
	return g.build(cmd, true)
}

func (g *globalFlags) build(cmd *cobra.Command, readOnly bool) (*app, error) {
	cfg, err := config.Load(config.Options{
		Path:      g.configPath,
		EnvFile:   g.envFile,
		Overrides: g.overrides(cmd),
	})
	if err != nil {
		return nil, badInput(err)
	}
	logCfg := logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Out:    cmd.ErrOrStderr(),
	}
	if readOnly {
		logCfg.File = ""
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return nil, badInput(err)
	}
	rec := metrics.New()
	pipe, err := pipeline.New(cfg, pipeline.Options{Logger: logger, Metrics: rec, Version: version})
	if err != nil {
		closeLog()
		return nil, badInput(err)
	}
	return &app{cfg: cfg, logger: logger, metrics: rec, pipe: pipe, close: closeLog}, nil
}

// withSignals cancels the returned context on the first SIGINT or SIGTERM so
// the running stage stops after its in-flight items. A second signal exits
// immediately.
func withSignals(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			logger.Warn("shutdown requested; finishing in-flight items, signal again to force", "signal", sig.String())
			cancel()
		case <-stop:
			return
		}
		select {
		case <-sigs:
			logger.Error("forced exit")
			os.Exit(exitCodeInterrupted)
		case <-stop:
		}
	}()
	return ctx, func() {
		signal.Stop(sigs)
		close(stop)
		cancel()
	}
}
