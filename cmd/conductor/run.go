package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conductor/internal/collector"
	"conductor/internal/config"
	"conductor/internal/core"
	"conductor/internal/engine"
	"conductor/internal/progress"
	"conductor/internal/store"
	"conductor/internal/suite"
	"conductor/internal/telemetry"
	"conductor/internal/workers"
	"conductor/internal/yamlsuite"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run [files...]",
		Short:   "Run scenario files, the configured tests by default",
		PreRunE: bindLocalFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSuites(ctx, cmd, v, args)
		},
	}
	f := cmd.Flags()
	f.IntP("workers", "w", 0, "number of parallel workers")
	f.String("grep", "", "only run tests whose full title matches this regexp")
	f.Bool("invert", false, "run the tests grep does not match")
	f.Bool("dry-run", false, "schedule and report steps without calling helpers")
	f.Duration("timeout", 0, "per-test timeout")
	f.StringP("output", "o", "", "report format: text | json")
	f.String("output-file", "", "write the report to this file instead of stdout")
	f.String("store", "", "sqlite database that keeps run history")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.Bool("trace", false, "export OpenTelemetry spans")
	f.BoolP("quiet", "q", false, "suppress the progress line")
	f.BoolP("verbose", "v", false, "log REST requests and responses")
	return cmd
}

// applyOverrides copies flags and CONDUCTOR_* variables over file values.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	if v.IsSet("workers") {
		cfg.Workers = v.GetInt("workers")
	}
	if v.IsSet("grep") {
		cfg.Grep = v.GetString("grep")
	}
	if v.IsSet("invert") {
		cfg.Invert = v.GetBool("invert")
	}
	if v.IsSet("dry-run") {
		cfg.DryRun = v.GetBool("dry-run")
	}
	if v.IsSet("timeout") {
		cfg.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("output") {
		cfg.Output.Format = v.GetString("output")
	}
	if v.IsSet("output-file") {
		cfg.Output.File = v.GetString("output-file")
	}
	if v.IsSet("store") {
		cfg.Output.Store = v.GetString("store")
	}
	if v.IsSet("metrics-addr") {
		cfg.Telemetry.MetricsAddr = v.GetString("metrics-addr")
	}
	if v.IsSet("trace") {
		cfg.Telemetry.Tracing = v.GetBool("trace")
	}
	if v.GetBool("verbose") && cfg.Helpers.REST != nil {
		cfg.Helpers.REST.Debug = true
	}
}

// loadSuites resolves args, or the configured globs, into suites.
func loadSuites(v *viper.Viper, args []string) (*config.Config, []*suite.Suite, error) {
	cfg, dir, err := loadConfig(v)
	if err != nil {
		return nil, nil, usageError(err)
	}
	applyOverrides(v, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, usageError(fmt.Errorf("invalid configuration: %w", err))
	}

	patterns := cfg.Tests
	if len(args) > 0 {
		patterns, dir = args, "."
	}
	files, err := config.ResolveTests(dir, patterns)
	if err != nil {
		return nil, nil, usageError(err)
	}
	if len(files) == 0 {
		return nil, nil, usageError(errors.New("no scenario files matched"))
	}
	suites, err := yamlsuite.Load(files...)
	if err != nil {
		return nil, nil, usageError(err)
	}
	return cfg, suites, nil
}

func runSuites(ctx context.Context, cmd *cobra.Command, v *viper.Viper, args []string) error {
	logger, err := buildLogger(v, cmd.ErrOrStderr())
	if err != nil {
		return usageError(err)
	}
	cfg, suites, err := loadSuites(v, args)
	if err != nil {
		return err
	}

	coll := collector.NewCollector()
	prog := progress.New(cmd.ErrOrStderr(), progress.Options{
		Quiet: v.GetBool("quiet"),
		Total: countTests(suites),
	})
	reporters := core.MultiReporter{coll, prog}

	var run *store.Run
	if cfg.Output.Store != "" {
		st, err := store.Open(cfg.Output.Store)
		if err != nil {
			return usageError(err)
		}
		defer st.Close()
		if run, err = st.BeginRun(ctx, time.Now(), cfg.Workers); err != nil {
			return usageError(err)
		}
		reporters = append(reporters, run)
	}

	observers, shutdown, err := setupTelemetry(ctx, cfg, cmd.ErrOrStderr(), logger)
	if err != nil {
		return usageError(err)
	}
	defer shutdown()

	var debug io.Writer
	if v.GetBool("verbose") {
		debug = cmd.ErrOrStderr()
	}

	prog.Printf("Conductor %q: %d suites on %d workers", cfg.Name, len(suites), min(cfg.Workers, len(suites)))

	pool := workers.NewPool(func(id int) (*engine.Engine, error) {
		return engine.New(engine.Options{
			Config:    cfg,
			Worker:    id,
			Reporter:  reporters,
			Observers: observers,
			Debug:     debug,
			Logger:    logger,
		})
	}, reporters, logger)

	prog.Start()
	res, runErr := pool.Run(ctx, cfg.Workers, suites)
	prog.Stop()
	coll.Close()

	if run != nil {
		if err := run.Finish(context.WithoutCancel(ctx), res); err != nil {
			logger.Error("saving run failed", slog.String("error", err.Error()))
		} else {
			prog.Printf("Run %s saved to %s", run.ID, cfg.Output.Store)
		}
	}
	if runErr != nil {
		return usageError(runErr)
	}

	metrics := coll.Compute()
	var thresholds *collector.Verdicts
	if cfg.Thresholds != nil {
		thresholds = cfg.Thresholds.Check(metrics)
	}
	if err := writeReport(cmd.OutOrStdout(), cfg.Output, metrics, thresholds); err != nil {
		return usageError(err)
	}

	switch {
	case ctx.Err() != nil:
		return &exitError{code: ExitFailed, err: errors.New("run interrupted")}
	case !res.OK():
		return &exitError{code: ExitFailed, err: fmt.Errorf("%d of %d tests failed", res.Failed, res.Tests)}
	case thresholds != nil && !thresholds.Passed:
		return &exitError{code: ExitFailed, err: errors.New("threshold check failed")}
	}
	return nil
}

func setupTelemetry(ctx context.Context, cfg *config.Config, stderr io.Writer, logger *slog.Logger) ([]engine.Observer, func(), error) {
	var (
		observers []engine.Observer
		closers   []func()
	)
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		reg := prometheus.NewRegistry()
		observers = append(observers, telemetry.NewMetrics(reg))
		sctx, cancel := context.WithCancel(ctx)
		closers = append(closers, cancel)
		if _, err := telemetry.StartMetricsServer(sctx, addr, reg, logger); err != nil {
			shutdown()
			return nil, nil, fmt.Errorf("metrics server: %w", err)
		}
	}

	if cfg.Telemetry.Tracing {
		out := stderr
		if cfg.Telemetry.TraceFile != "" {
			f, err := os.Create(cfg.Telemetry.TraceFile)
			if err != nil {
				shutdown()
				return nil, nil, fmt.Errorf("trace file: %w", err)
			}
			closers = append(closers, func() { f.Close() })
			out = f
		}
		tp, err := telemetry.NewTracerProvider(out, cfg.Name)
		if err != nil {
			shutdown()
			return nil, nil, err
		}
		closers = append(closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.Warn("trace export failed", slog.String("error", err.Error()))
			}
		})
		observers = append(observers, telemetry.NewTracing(tp))
	}
	return observers, shutdown, nil
}

func writeReport(stdout io.Writer, out config.OutputConfig, m *collector.Metrics, th *collector.Verdicts) error {
	w := stdout
	if out.File != "" {
		f, err := os.Create(out.File)
		if err != nil {
			return fmt.Errorf("report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if out.Format == config.FormatJSON {
		collector.FormatJSON(w, m, th)
	} else {
		collector.FormatText(w, m, th)
	}
	return nil
}

func countTests(suites []*suite.Suite) int {
	n := 0
	for _, s := range suites {
		n += len(s.Tests)
	}
	return n
}
