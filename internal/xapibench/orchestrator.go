package xapibench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/benchbar"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
	"github.com/nsqlite/xapibench/internal/xapibench/metrics"
	"github.com/nsqlite/xapibench/internal/xapibench/report"
	"golang.org/x/sync/errgroup"
)

const logNs = "orchestrator"

// Options are the run parameters of an Orchestrator.
type Options struct {
	NumBatches        int
	DropTablesFirst   bool
	DistributionsOnly bool
	// ProgressEvery reports progress and the backend clock every N batches.
	ProgressEvery int
	// QueryEvery runs the query set every N batches, batch 0 included.
	QueryEvery int
	// Pipeline generates batch N+1 while batch N is inserted.
	Pipeline bool
	// MaxBatchesPerSecond throttles inserts, zero disables it.
	MaxBatchesPerSecond float64
}

// DefaultOptions returns the options of a single batch run.
func DefaultOptions() Options {
	return Options{
		NumBatches:    1,
		ProgressEvery: 10,
		QueryEvery:    100,
	}
}

func (o Options) validate() error {
	const op = "orchestrate"
	switch {
	case o.NumBatches < 0:
		return fault.Errorf(fault.InvalidConfiguration, op, "number of batches must not be negative, got %d", o.NumBatches)
	case o.ProgressEvery <= 0:
		return fault.Errorf(fault.InvalidConfiguration, op, "progress interval must be positive, got %d", o.ProgressEvery)
	case o.QueryEvery <= 0:
		return fault.Errorf(fault.InvalidConfiguration, op, "query interval must be positive, got %d", o.QueryEvery)
	case o.MaxBatchesPerSecond < 0:
		return fault.Errorf(fault.InvalidConfiguration, op, "max batches per second must not be negative, got %g", o.MaxBatchesPerSecond)
	}
	return nil
}

// produced is a batch with the generator summary taken right after it, so
// queries measuring it never see a later batch.
type produced struct {
	batch   generator.Batch
	summary generator.Summary
}

// Orchestrator drives one benchmark run: setup, batched ingestion with
// periodic measurement, distribution queries and the final report data.
type Orchestrator struct {
	lake     *backend.Lake
	gen      *generator.Generator
	run      *metrics.Run
	opts     Options
	logger   log.Logger
	bar      *benchbar.Bar
	out      io.Writer
	throttle *throttle
}

// NewOrchestrator wires an opened lake to a generator. Measurements are
// recorded on run.
func NewOrchestrator(
	lake *backend.Lake,
	gen *generator.Generator,
	run *metrics.Run,
	opts Options,
	logger log.Logger,
) (*Orchestrator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		lake:     lake,
		gen:      gen,
		run:      run,
		opts:     opts,
		logger:   logger,
		throttle: newThrottle(opts.MaxBatchesPerSecond),
	}, nil
}

// SetProgressBar draws batch progress on bar. A nil bar disables it.
func (o *Orchestrator) SetProgressBar(bar *benchbar.Bar) {
	o.bar = bar
}

// SetReportWriter prints progress lines and checkpoint query tables on w
// while the run goes. A nil w disables it.
func (o *Orchestrator) SetReportWriter(w io.Writer) {
	o.out = w
}

func (o *Orchestrator) insertLabel() string {
	return "inserting into " + o.lake.Kind().Value
}

// Run executes the benchmark. Any error aborts the run and is returned
// unchanged; what was measured before stays on the metrics.Run.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		o.run.RecordPhase(metrics.PhaseTotal, time.Since(start))
	}()

	if o.opts.DistributionsOnly {
		o.logger.InfoNs(logNs, "running distribution queries only", log.KV{
			"backend": o.lake.Kind().Value,
		})
		return o.distributions(ctx)
	}

	if err := o.setup(ctx); err != nil {
		return err
	}

	insertStart := time.Now()
	var err error
	if o.opts.Pipeline {
		err = o.insertPipelined(ctx)
	} else {
		err = o.insertSequential(ctx)
	}
	o.bar.Finish()
	if err != nil {
		return err
	}
	insertDuration := time.Since(insertStart)
	o.run.RecordPhase(metrics.PhaseInsert, insertDuration)

	dbTime, err := o.lake.CurrentTime(ctx)
	if err != nil {
		return err
	}
	counts, err := o.lake.RowCounts(ctx)
	if err != nil {
		return err
	}
	o.run.RecordFinal(counts, dbTime)

	o.logger.InfoNs(logNs, "insert phase done", log.KV{
		"backend":  o.lake.Kind().Value,
		"batches":  o.opts.NumBatches,
		"duration": insertDuration.String(),
		"dbTime":   dbTime,
		"rows":     counts.Statements,
		"inserted": counts.Inserted,
	})

	return o.distributions(ctx)
}

func (o *Orchestrator) setup(ctx context.Context) error {
	start := time.Now()

	if o.opts.DropTablesFirst {
		if err := o.lake.DropTables(ctx); err != nil {
			return err
		}
	}
	if err := o.lake.CreateTables(ctx); err != nil {
		return err
	}

	dbTime, err := o.lake.CurrentTime(ctx)
	if err != nil {
		return err
	}
	o.run.RecordPhase(metrics.PhaseSetup, time.Since(start))

	o.logger.InfoNs(logNs, "setup done", log.KV{
		"backend":  o.lake.Kind().Value,
		"duration": time.Since(start).String(),
		"dbTime":   dbTime,
	})
	return nil
}

func (o *Orchestrator) insertSequential(ctx context.Context) error {
	next := func() (produced, error) {
		b := o.gen.NextBatch()
		return produced{batch: b, summary: o.gen.Summary()}, nil
	}

	for x := range o.opts.NumBatches {
		if err := o.step(ctx, x, next); err != nil {
			return err
		}
	}
	return nil
}

// insertPipelined runs the generator in its own goroutine, one batch ahead
// of the inserts. The generator stays single writer and batches are
// inserted strictly in order.
func (o *Orchestrator) insertPipelined(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	ch := make(chan produced, 1)

	g.Go(func() error {
		defer close(ch)
		for range o.opts.NumBatches {
			b := o.gen.NextBatch()
			p := produced{batch: b, summary: o.gen.Summary()}
			select {
			case ch <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		next := func() (produced, error) {
			select {
			case p, ok := <-ch:
				if !ok {
					return produced{}, errors.New("generator stopped before the last batch")
				}
				return p, nil
			case <-ctx.Done():
				return produced{}, ctx.Err()
			}
		}

		for x := range o.opts.NumBatches {
			if err := o.step(ctx, x, next); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// step runs iteration x of the batch loop.
func (o *Orchestrator) step(ctx context.Context, x int, next func() (produced, error)) error {
	if x%o.opts.ProgressEvery == 0 {
		dbTime, err := o.lake.CurrentTime(ctx)
		if err != nil {
			return err
		}
		progress := o.run.RecordProgress(x, dbTime)
		if o.out != nil {
			report.WriteProgress(o.out, progress, o.opts.NumBatches)
		}
		o.logger.InfoNs(logNs, "progress", log.KV{
			"backend": o.lake.Kind().Value,
			"batch":   x,
			"of":      o.opts.NumBatches,
			"dbTime":  dbTime,
		})
	}

	p, err := next()
	if err != nil {
		return err
	}

	if err := o.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("error waiting for batch %d: %w", x, err)
	}

	start := time.Now()
	if err := o.lake.BatchInsert(ctx, p.batch); err != nil {
		return err
	}
	o.run.RecordBatch(p.batch.Len(), time.Since(start))
	o.bar.Inc()

	if x%o.opts.QueryEvery == 0 {
		if err := o.checkpoint(ctx, x, p.summary); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, x int, summary generator.Summary) error {
	o.bar.Describe(fmt.Sprintf("querying after batch %d", x))
	defer o.bar.Describe(o.insertLabel())

	queries, err := o.lake.RunQueries(ctx, summary)
	if err != nil {
		return err
	}
	dbTime, err := o.lake.CurrentTime(ctx)
	if err != nil {
		return err
	}
	counts, err := o.lake.RowCounts(ctx)
	if err != nil {
		return err
	}
	cp := o.run.RecordCheckpoint(x, queries, counts, dbTime)
	if o.out != nil {
		report.WriteCheckpoint(o.out, cp)
	}

	o.logger.InfoNs(logNs, "queries", log.KV{
		"backend":  o.lake.Kind().Value,
		"batch":    x,
		"duration": queries.Total.String(),
		"rows":     counts.Statements,
		"dbTime":   dbTime,
	})
	return nil
}

func (o *Orchestrator) distributions(ctx context.Context) error {
	start := time.Now()
	dist, err := o.lake.RunDistributionQueries(ctx)
	if err != nil {
		return err
	}
	o.run.RecordDistribution(dist)
	o.run.RecordPhase(metrics.PhaseDistribution, time.Since(start))
	return nil
}
