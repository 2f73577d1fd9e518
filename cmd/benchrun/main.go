// Package main provides the CLI entry point for benchrun, which runs
// Criterion benchmark executables and drives them over the cargo-criterion
// protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/benchrun/harness"
	"github.com/weiihann/benchrun/history"
	"github.com/weiihann/benchrun/report"
	"github.com/weiihann/benchrun/target"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Error("benchrun failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "benchrun",
		Short: "Run Criterion benchmark executables",
		Long: `Benchrun launches compiled Criterion benchmark executables, speaks the
cargo-criterion protocol with each of them over a loopback connection, and
reports what every benchmark did.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newHistoryCmd(logger))

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		targets      []string
		manifestDir  string
		cargoArgs    []string
		home         string
		historyPath  string
		outputJSON   bool
		timeout      time.Duration
		pollInterval time.Duration
		otlpEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] [-- benchmark args...]",
		Short: "Run benchmark targets",
		Long: `Run each benchmark target in turn. Targets are given with --target, or
built and discovered with cargo from --manifest-dir. Arguments after -- are
passed to every target after --bench.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmarks(cmd.Context(), logger, runConfig{
				targets:      targets,
				manifestDir:  manifestDir,
				cargoArgs:    cargoArgs,
				home:         home,
				historyPath:  historyPath,
				outputJSON:   outputJSON,
				timeout:      timeout,
				pollInterval: pollInterval,
				otlpEndpoint: otlpEndpoint,
				extraArgs:    args,
				out:          cmd.OutOrStdout(),
			})
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&targets, "target", nil,
		"Benchmark executable as name=path (repeatable)")
	flags.StringVar(&manifestDir, "manifest-dir", ".",
		"Cargo workspace to build benchmarks from when no --target is given")
	flags.StringArrayVar(&cargoArgs, "cargo-arg", nil,
		"Extra argument for cargo bench --no-run (repeatable)")
	flags.StringVar(&home, "home", defaultHome(),
		"Directory the targets store their results in")
	flags.StringVar(&historyPath, "history", defaultHistoryPath(),
		"SQLite file recording every target run (empty disables)")
	flags.BoolVar(&outputJSON, "json", false,
		"Output results as JSON instead of table")
	flags.DurationVar(&timeout, "timeout", 0,
		"Time limit per target (0 = none)")
	flags.DurationVar(&pollInterval, "poll-interval", target.DefaultPollInterval,
		"How long to wait for a connection between exit checks (minimum 1ms)")
	flags.StringVar(&otlpEndpoint, "otlp-endpoint", os.Getenv("BENCHRUN_OTLP_ENDPOINT"),
		"OTLP/HTTP collector host:port for run traces")

	return cmd
}

type runConfig struct {
	targets      []string
	manifestDir  string
	cargoArgs    []string
	home         string
	historyPath  string
	outputJSON   bool
	timeout      time.Duration
	pollInterval time.Duration
	otlpEndpoint string
	extraArgs    []string
	out          io.Writer
}

func defaultHome() string {
	if home := os.Getenv(target.EnvHome); home != "" {
		return home
	}

	return filepath.Join("target", "criterion")
}

func defaultHistoryPath() string {
	return filepath.Join("target", "benchrun", "history.db")
}

func runBenchmarks(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
) error {
	if cfg.pollInterval < 0 {
		return fmt.Errorf("invalid --poll-interval %v: must not be negative", cfg.pollInterval)
	}

	shutdown, err := setupTracing(ctx, cfg.otlpEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := shutdown(context.Background()); shutdownErr != nil {
			logger.Warn("failed to flush traces",
				slog.String("error", shutdownErr.Error()),
			)
		}
	}()

	// Step 1: Resolve targets, building them with cargo if none were given.
	targets, err := resolveTargets(ctx, logger, cfg)
	if err != nil {
		return err
	}

	// Step 2: Prepare the home directory.
	home, err := filepath.Abs(cfg.home)
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}

	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	// Step 3: Open the run history.
	var store *history.Store
	if cfg.historyPath != "" {
		store, err = history.Open(ctx, cfg.historyPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
	}

	logger.InfoContext(ctx, "starting benchmarks",
		slog.Int("targets", len(targets)),
		slog.String("home", home),
		slog.Any("args", cfg.extraArgs),
	)

	// Step 4: Run each target sequentially; the first failure stops the run.
	collector := report.NewCollector()
	runner := target.NewRunner(logger, collector)
	runner.PollInterval = cfg.pollInterval

	var runErr error
	for _, t := range targets {
		runErr = runTarget(ctx, logger, runner, collector, store, cfg, t, home)
		if runErr != nil {
			break
		}
	}

	// Step 5: Report whatever was observed, even after a failure.
	summaries := collector.Summaries()
	switch {
	case len(summaries) == 0:
		logger.InfoContext(ctx, "no benchmarks reported")
	case cfg.outputJSON:
		if err := report.GenerateJSON(cfg.out, summaries); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	default:
		if err := report.Generate(cfg.out, summaries); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	logger.InfoContext(ctx, "benchmarks complete")

	return nil
}

func resolveTargets(ctx context.Context, logger *slog.Logger, cfg runConfig) ([]target.Target, error) {
	if len(cfg.targets) == 0 {
		targets, err := harness.Build(ctx, logger, cfg.manifestDir, cfg.cargoArgs)
		if err != nil {
			return nil, fmt.Errorf("build targets: %w", err)
		}
		return targets, nil
	}

	targets := make([]target.Target, 0, len(cfg.targets))
	for _, spec := range cfg.targets {
		t, err := harness.ParseTargetSpec(spec)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}

	return targets, nil
}

func runTarget(
	ctx context.Context,
	logger *slog.Logger,
	runner *target.Runner,
	collector *report.Collector,
	store *history.Store,
	cfg runConfig,
	t target.Target,
	home string,
) error {
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	before := len(collector.Summaries())
	startedAt := time.Now()

	err := runner.Execute(ctx, t, home, cfg.extraArgs)

	rec := history.NewRecord(t, startedAt, err)
	rec.Benchmarks = len(collector.Summaries()) - before

	logger.InfoContext(ctx, "target finished",
		slog.String("target", t.Name),
		slog.String("outcome", string(rec.Outcome)),
		slog.Int("benchmarks", rec.Benchmarks),
		slog.Duration("wall_time", rec.Duration()),
	)

	if store != nil {
		// Recording must survive a timed out target context.
		if saveErr := store.Save(context.WithoutCancel(ctx), rec); saveErr != nil {
			logger.Warn("failed to record run",
				slog.String("target", t.Name),
				slog.String("error", saveErr.Error()),
			)
		}
	}

	return err
}
