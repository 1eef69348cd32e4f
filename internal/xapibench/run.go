// Package xapibench runs a comparative load test against one learning
// record store backend.
package xapibench

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/version"
	"github.com/nsqlite/xapibench/internal/xapibench/benchbar"
	"github.com/nsqlite/xapibench/internal/xapibench/config"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
	"github.com/nsqlite/xapibench/internal/xapibench/metrics"
	"github.com/nsqlite/xapibench/internal/xapibench/report"
)

// Run parses the command line, runs the benchmark and prints the report.
// A failure is printed as "<Condition>: <message>" and returned.
func Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Parse(os.Args)
	if err != nil {
		report.WriteError(os.Stderr, err)
		return err
	}

	if err := run(ctx, cfg, os.Stdout, os.Stderr, config.TerminalPrompt); err != nil {
		report.WriteError(os.Stderr, err)
		return err
	}
	return nil
}

// run executes one benchmark described by a validated cfg. Reports go to
// stdout, logs and the progress bar to stderr.
func run(
	ctx context.Context,
	cfg config.Config,
	stdout io.Writer,
	stderr io.Writer,
	prompt config.PasswordPrompter,
) (err error) {
	fmt.Fprintln(stdout, version.BenchVersion())
	logger := log.NewLeveledLogger(stderr, cfg.Level)

	defer func() {
		if err != nil {
			logger.ErrorNs(logNs, "run failed", log.KV{"error": err.Error()})
		}
	}()

	if err := cfg.ResolvePassword(prompt); err != nil {
		return err
	}
	logger.InfoNs(logNs, "starting run", cfg.LogKV())

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	logger.InfoNs(logNs, "generator ready", log.KV{
		"seed":      gen.Seed(),
		"batchSize": gen.BatchSize(),
	})

	lake, err := newLake(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := lake.Close(); closeErr != nil {
			if err == nil {
				err = closeErr
				return
			}
			err = multierror.Append(err, closeErr)
		}
	}()

	if err := lake.Open(ctx); err != nil {
		return err
	}

	opts := Options{
		NumBatches:          cfg.NumBatches,
		DropTablesFirst:     cfg.DropTablesFirst,
		DistributionsOnly:   cfg.DistributionsOnly,
		ProgressEvery:       cfg.ProgressEvery,
		QueryEvery:          cfg.QueryEvery,
		Pipeline:            cfg.Pipeline,
		MaxBatchesPerSecond: cfg.MaxBatchesPerSecond,
	}
	mrun := metrics.NewRun(cfg.Kind.Value, gen.Seed(), gen.BatchSize())

	orch, err := NewOrchestrator(lake, gen, mrun, opts, logger)
	if err != nil {
		return err
	}
	orch.SetReportWriter(stdout)
	if !cfg.NoProgressBar && !cfg.DistributionsOnly {
		orch.SetProgressBar(benchbar.New(stderr, orch.insertLabel(), cfg.NumBatches))
	}

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(ctx, cfg.MetricsAddr, mrun, logger)
		defer stopMetrics()
	}

	if err := orch.Run(ctx); err != nil {
		report.Status(stdout, "run aborted, partial results follow")
		report.Write(stdout, mrun.Summary())
		return err
	}

	report.Write(stdout, mrun.Summary())
	return nil
}

func newGenerator(cfg config.Config) (*generator.Generator, error) {
	params := generator.DefaultParams()
	if cfg.GeneratorConfig != "" {
		loaded, err := generator.LoadParams(cfg.GeneratorConfig)
		if err != nil {
			return nil, err
		}
		params = loaded
	}

	// Flags win over the parameter file.
	params.BatchSize = cfg.BatchSize
	if cfg.Seed != 0 {
		params.Seed = cfg.Seed
	}
	return generator.New(params)
}

// serveMetrics exposes the run on addr until the returned func is called.
func serveMetrics(ctx context.Context, addr string, mrun *metrics.Run, logger log.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := metrics.Serve(ctx, addr, mrun.Registry(), logger); err != nil {
			logger.ErrorNs(logNs, "metrics server failed", log.KV{"error": err.Error()})
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
