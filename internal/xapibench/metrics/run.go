// Package metrics accumulates the measurements of one benchmark run and
// exposes them as Prometheus collectors.
package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/orsinium-labs/enum"
	"github.com/prometheus/client_golang/prometheus"
)

// Phase of a run.
type Phase enum.Member[string]

var (
	PhaseSetup        = Phase{Value: "setup"}
	PhaseInsert       = Phase{Value: "insert"}
	PhaseDistribution = Phase{Value: "distribution"}
	PhaseTotal        = Phase{Value: "total"}

	Phases = enum.New(PhaseSetup, PhaseInsert, PhaseDistribution, PhaseTotal)
)

// Progress is recorded every few batches.
type Progress struct {
	Batch   int
	Elapsed time.Duration
	DBTime  time.Time
}

// Checkpoint is the result of the periodic query set.
type Checkpoint struct {
	Batch   int
	DBTime  time.Time
	Counts  backend.RowCounts
	Queries backend.QueryReport
}

// PhaseDuration is one entry of Summary.Phases.
type PhaseDuration struct {
	Phase    Phase
	Duration time.Duration
}

// Summary is a point in time copy of a Run.
type Summary struct {
	Backend   string
	Seed      uint64
	BatchSize int

	Batches      int
	RowsInserted int64
	// Throughput is statements per second over the insert phase.
	Throughput   float64
	BatchLatency DurationStats

	Phases        []PhaseDuration
	Progress      []Progress
	Checkpoints   []Checkpoint
	Distributions []backend.DistributionReport
	FinalCounts   backend.RowCounts
	FinalDBTime   time.Time
}

// Run accumulates the measurements of one run. It is safe for concurrent
// use: the orchestrator writes while the metrics endpoint reads.
type Run struct {
	mu sync.Mutex

	backend   string
	seed      uint64
	batchSize int
	started   time.Time

	batchLatencies []time.Duration
	rowsInserted   int64
	phases         map[Phase]time.Duration
	progress       []Progress
	checkpoints    []Checkpoint
	distributions  []backend.DistributionReport
	finalCounts    backend.RowCounts
	finalDBTime    time.Time

	registry   *prometheus.Registry
	collectors *collectors
}

// NewRun returns a Run with its collectors registered on a private registry.
func NewRun(backendName string, seed uint64, batchSize int) *Run {
	r := &Run{
		backend:    backendName,
		seed:       seed,
		batchSize:  batchSize,
		started:    time.Now(),
		phases:     map[Phase]time.Duration{},
		registry:   prometheus.NewRegistry(),
		collectors: newCollectors(),
	}

	// Registering fresh collectors on a fresh registry cannot collide.
	_ = r.collectors.register(r.registry)
	_ = r.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        prefix + "batch_insert_p99_seconds",
			Help:        "99th percentile of batch insert latency so far",
			ConstLabels: prometheus.Labels{backendLabel: backendName},
		},
		func() float64 {
			r.mu.Lock()
			defer r.mu.Unlock()
			return ComputeDurationStats(r.batchLatencies).P99.Seconds()
		},
	))
	return r
}

// Registry returns the registry holding the run collectors.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// RecordBatch records a batch of n statements the backend acknowledged.
func (r *Run) RecordBatch(n int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batchLatencies = append(r.batchLatencies, d)
	r.rowsInserted += int64(n)

	r.collectors.batches.WithLabelValues(r.backend).Inc()
	r.collectors.statements.WithLabelValues(r.backend).Add(float64(n))
	r.collectors.batchDuration.WithLabelValues(r.backend).Observe(d.Seconds())
}

// RecordProgress records a progress report after batch and returns it.
func (r *Run) RecordProgress(batch int, dbTime time.Time) Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Progress{
		Batch:   batch,
		Elapsed: time.Since(r.started),
		DBTime:  dbTime,
	}
	r.progress = append(r.progress, p)
	return p
}

// RecordCheckpoint records the periodic query set run after batch and
// returns it.
func (r *Run) RecordCheckpoint(batch int, report backend.QueryReport, counts backend.RowCounts, dbTime time.Time) Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Checkpoint{
		Batch:   batch,
		DBTime:  dbTime,
		Counts:  counts,
		Queries: report,
	}
	r.checkpoints = append(r.checkpoints, c)
	for _, q := range report.Results {
		r.collectors.queryDuration.WithLabelValues(r.backend, q.Name).Observe(q.Duration.Seconds())
	}
	r.collectors.backendRows.WithLabelValues(r.backend).Set(float64(counts.Statements))
	return c
}

// RecordDistribution records one distribution query pass.
func (r *Run) RecordDistribution(report backend.DistributionReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.distributions = append(r.distributions, report)
	for _, q := range report.Timings {
		r.collectors.queryDuration.WithLabelValues(r.backend, q.Name).Observe(q.Duration.Seconds())
	}
	r.collectors.distributionPasses.WithLabelValues(r.backend).Inc()
}

// RecordPhase records how long phase took.
func (r *Run) RecordPhase(phase Phase, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.phases[phase] = d
	r.collectors.phaseDuration.WithLabelValues(r.backend, phase.Value).Set(d.Seconds())
}

// RecordFinal records the row counts and backend clock at the end of the
// insert phase.
func (r *Run) RecordFinal(counts backend.RowCounts, dbTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finalCounts = counts
	r.finalDBTime = dbTime
	r.collectors.backendRows.WithLabelValues(r.backend).Set(float64(counts.Statements))
}

// Summary returns a copy of everything recorded so far.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Backend:       r.backend,
		Seed:          r.seed,
		BatchSize:     r.batchSize,
		Batches:       len(r.batchLatencies),
		RowsInserted:  r.rowsInserted,
		BatchLatency:  ComputeDurationStats(r.batchLatencies),
		Progress:      slices.Clone(r.progress),
		Checkpoints:   slices.Clone(r.checkpoints),
		Distributions: slices.Clone(r.distributions),
		FinalCounts:   r.finalCounts,
		FinalDBTime:   r.finalDBTime,
	}

	for _, p := range Phases.Members() {
		if d, ok := r.phases[p]; ok {
			s.Phases = append(s.Phases, PhaseDuration{Phase: p, Duration: d})
		}
	}
	if d := r.phases[PhaseInsert]; d > 0 {
		s.Throughput = float64(r.rowsInserted) / d.Seconds()
	}
	return s
}
