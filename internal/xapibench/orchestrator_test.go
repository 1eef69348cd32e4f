package xapibench

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/backend/backendtest"
	"github.com/nsqlite/xapibench/internal/xapibench/benchbar"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
	"github.com/nsqlite/xapibench/internal/xapibench/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestGenerator(t *testing.T, batchSize int) *generator.Generator {
	t.Helper()
	params := generator.DefaultParams()
	params.BatchSize = batchSize
	params.Seed = 1234
	params.StartTime = testStart
	gen, err := generator.New(params)
	require.NoError(t, err)
	return gen
}

type harness struct {
	driver *backendtest.Driver
	lake   *backend.Lake
	run    *metrics.Run
	orch   *Orchestrator
}

func newHarness(t *testing.T, driver *backendtest.Driver, batchSize int, opts Options) harness {
	t.Helper()
	logger := log.NewDiscardLogger()

	lake := backend.NewLake(backend.SQLite, driver, logger)
	require.NoError(t, lake.Open(context.Background()))

	run := metrics.NewRun("sqlite", 1234, batchSize)
	orch, err := NewOrchestrator(lake, newTestGenerator(t, batchSize), run, opts, logger)
	require.NoError(t, err)

	return harness{driver: driver, lake: lake, run: run, orch: orch}
}

func TestSequentialRun(t *testing.T) {
	opts := DefaultOptions()
	opts.NumBatches = 3
	opts.DropTablesFirst = true
	h := newHarness(t, backendtest.NewDriver(), 100, opts)

	require.NoError(t, h.orch.Run(context.Background()))

	assert.Equal(t, 300, h.driver.Len())
	assert.Equal(t, 3, h.driver.CountCalls("insert_batch"))
	assert.GreaterOrEqual(t, h.driver.CountCalls("actor_activity"), 1)
	assert.Equal(t, backend.Ready, h.lake.State())

	s := h.run.Summary()
	assert.Equal(t, 3, s.Batches)
	assert.Equal(t, int64(300), s.RowsInserted)
	assert.Equal(t, int64(300), s.FinalCounts.Statements)
	require.Len(t, s.Checkpoints, 1, "queries run on batch 0 only")
	assert.Equal(t, 0, s.Checkpoints[0].Batch)
	assert.Equal(t, int64(100), s.Checkpoints[0].Counts.Statements)
	require.Len(t, s.Progress, 1)
	require.Len(t, s.Distributions, 1)

	phases := []metrics.Phase{}
	for _, p := range s.Phases {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []metrics.Phase{
		metrics.PhaseSetup, metrics.PhaseInsert, metrics.PhaseDistribution, metrics.PhaseTotal,
	}, phases)
}

func TestSetupOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.NumBatches = 1
	opts.DropTablesFirst = true
	h := newHarness(t, backendtest.NewDriver(), 10, opts)

	require.NoError(t, h.orch.Run(context.Background()))

	calls := h.driver.Calls()
	require.GreaterOrEqual(t, len(calls), 7)
	assert.Equal(t, []string{
		"connect", "schema_exists", "drop_schema", "create_schema", "now", "now", "insert_batch",
	}, calls[:7], "setup reports the db time, then batch 0 reports progress before inserting")
}

func TestIntervals(t *testing.T) {
	opts := DefaultOptions()
	opts.NumBatches = 7
	opts.ProgressEvery = 3
	opts.QueryEvery = 2
	h := newHarness(t, backendtest.NewDriver(), 10, opts)

	require.NoError(t, h.orch.Run(context.Background()))

	s := h.run.Summary()
	progress := []int{}
	for _, p := range s.Progress {
		progress = append(progress, p.Batch)
	}
	checkpoints := []int{}
	for _, c := range s.Checkpoints {
		checkpoints = append(checkpoints, c.Batch)
	}
	assert.Equal(t, []int{0, 3, 6}, progress)
	assert.Equal(t, []int{0, 2, 4, 6}, checkpoints)
	assert.Equal(t, int64(50), s.Checkpoints[2].Counts.Statements)
}

func TestReportsAsItGoes(t *testing.T) {
	opts := DefaultOptions()
	opts.NumBatches = 5
	opts.ProgressEvery = 2
	opts.QueryEvery = 4
	h := newHarness(t, backendtest.NewDriver(), 10, opts)

	var out, bar bytes.Buffer
	h.orch.SetReportWriter(&out)
	h.orch.SetProgressBar(benchbar.New(&bar, h.orch.insertLabel(), opts.NumBatches))

	require.NoError(t, h.orch.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "batch 0 of 5")
	assert.Contains(t, text, "batch 2 of 5")
	assert.Contains(t, text, "batch 4 of 5")
	assert.Contains(t, text, "Queries at batch 0 (10 rows")
	assert.Contains(t, text, "Queries at batch 4 (50 rows")
	assert.Contains(t, bar.String(), "5/5")
}

func TestReportsCheckpointsBeforeFailure(t *testing.T) {
	driver := backendtest.NewDriver()
	driver.FailInsertOn = 2

	opts := DefaultOptions()
	opts.NumBatches = 4
	opts.QueryEvery = 1
	h := newHarness(t, driver, 10, opts)

	var out bytes.Buffer
	h.orch.SetReportWriter(&out)

	err := h.orch.Run(context.Background())
	assert.True(t, fault.Is(err, fault.BatchInsertFailed), err)
	assert.Contains(t, out.String(), "Queries at batch 0")
	assert.Contains(t, out.String(), "Queries at batch 1")
	assert.NotContains(t, out.String(), "Queries at batch 2")
}

func TestDistributionsOnly(t *testing.T) {
	gen := newTestGenerator(t, 1000)
	batches := []generator.Batch{}
	for range 5 {
		batches = append(batches, gen.NextBatch())
	}

	opts := DefaultOptions()
	opts.NumBatches = 10
	opts.DistributionsOnly = true
	h := newHarness(t, backendtest.NewPopulatedDriver(batches...), 1000, opts)

	require.NoError(t, h.orch.Run(context.Background()))

	assert.Equal(t, 0, h.driver.CountCalls("insert_batch"))
	assert.Equal(t, 0, h.driver.CountCalls("create_schema"))
	assert.Equal(t, 0, h.driver.CountCalls("drop_schema"))
	assert.Equal(t, 1, h.driver.CountCalls("actor_activity"))
	assert.Equal(t, 5000, h.driver.Len())

	s := h.run.Summary()
	assert.Equal(t, 0, s.Batches)
	require.Len(t, s.Distributions, 1)
	assert.Positive(t, s.Distributions[0].DistinctCourses)
}

func TestDistributionsOnlyWithoutSchema(t *testing.T) {
	opts := DefaultOptions()
	opts.DistributionsOnly = true
	h := newHarness(t, backendtest.NewDriver(), 10, opts)

	err := h.orch.Run(context.Background())
	assert.True(t, fault.Is(err, fault.NotReady), err)
	assert.Equal(t, 0, h.driver.CountCalls("actor_activity"))
}

func TestExistingSchemaWithoutDrop(t *testing.T) {
	gen := newTestGenerator(t, 10)
	opts := DefaultOptions()
	opts.NumBatches = 2
	h := newHarness(t, backendtest.NewPopulatedDriver(gen.NextBatch()), 10, opts)

	err := h.orch.Run(context.Background())
	assert.True(t, fault.Is(err, fault.SchemaExists), err)
	assert.Equal(t, 0, h.driver.CountCalls("create_schema"))
	assert.Equal(t, 0, h.driver.CountCalls("insert_batch"))
	assert.Equal(t, 10, h.driver.Len())
}

func TestInsertFailureAborts(t *testing.T) {
	for _, pipeline := range []bool{false, true} {
		driver := backendtest.NewDriver()
		driver.FailInsertOn = 1

		opts := DefaultOptions()
		opts.NumBatches = 5
		opts.Pipeline = pipeline
		h := newHarness(t, driver, 100, opts)

		err := h.orch.Run(context.Background())
		assert.True(t, fault.Is(err, fault.BatchInsertFailed), err)
		assert.Equal(t, 100, driver.Len())
		assert.Equal(t, 2, driver.CountCalls("insert_batch"))
		assert.Equal(t, 0, driver.CountCalls("actor_activity"), "no distribution queries after a failure")
		assert.Equal(t, int64(100), h.run.Summary().RowsInserted)
	}
}

func TestQueryFailureIsFatal(t *testing.T) {
	driver := backendtest.NewDriver()
	driver.FailQueries = true

	opts := DefaultOptions()
	opts.NumBatches = 3
	h := newHarness(t, driver, 10, opts)

	err := h.orch.Run(context.Background())
	assert.True(t, fault.Is(err, fault.QueryFailed), err)
	assert.Equal(t, 1, driver.CountCalls("insert_batch"))
}

func TestPipelineMatchesSequential(t *testing.T) {
	run := func(pipeline bool) harness {
		opts := DefaultOptions()
		opts.NumBatches = 12
		opts.ProgressEvery = 4
		opts.QueryEvery = 5
		opts.Pipeline = pipeline
		h := newHarness(t, backendtest.NewDriver(), 50, opts)
		require.NoError(t, h.orch.Run(context.Background()))
		return h
	}

	seq := run(false)
	pipe := run(true)

	assert.Equal(t, seq.driver.Calls(), pipe.driver.Calls())
	assert.Equal(t, seq.driver.Len(), pipe.driver.Len())

	seqSummary, pipeSummary := seq.run.Summary(), pipe.run.Summary()
	require.Len(t, pipeSummary.Checkpoints, len(seqSummary.Checkpoints))
	for i := range seqSummary.Checkpoints {
		want, got := seqSummary.Checkpoints[i], pipeSummary.Checkpoints[i]
		assert.Equal(t, want.Counts, got.Counts)
		require.Len(t, got.Queries.Results, len(want.Queries.Results))
		for j := range want.Queries.Results {
			assert.Equal(t, want.Queries.Results[j].Name, got.Queries.Results[j].Name)
			assert.Equal(t, want.Queries.Results[j].Value, got.Queries.Results[j].Value)
			assert.Equal(t, want.Queries.Results[j].Counts, got.Queries.Results[j].Counts)
		}
	}
	assert.Equal(t, seqSummary.Distributions[0].Verbs, pipeSummary.Distributions[0].Verbs)
	assert.Equal(t, seqSummary.Distributions[0].ActorActivity, pipeSummary.Distributions[0].ActorActivity)
}

func TestCancelStopsPipeline(t *testing.T) {
	driver := backendtest.NewDriver()
	opts := DefaultOptions()
	opts.NumBatches = 50
	opts.Pipeline = true
	opts.MaxBatchesPerSecond = 5
	h := newHarness(t, driver, 10, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := h.orch.Run(ctx)
	require.Error(t, err)
	assert.Less(t, driver.Len(), 500)
	assert.Equal(t, 0, driver.CountCalls("actor_activity"))
}

func TestZeroBatches(t *testing.T) {
	opts := DefaultOptions()
	opts.NumBatches = 0
	h := newHarness(t, backendtest.NewDriver(), 10, opts)

	require.NoError(t, h.orch.Run(context.Background()))
	assert.Equal(t, 0, h.driver.CountCalls("insert_batch"))
	assert.Equal(t, 1, h.driver.CountCalls("actor_activity"))
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"negative batches", func(o *Options) { o.NumBatches = -1 }},
		{"zero progress interval", func(o *Options) { o.ProgressEvery = 0 }},
		{"zero query interval", func(o *Options) { o.QueryEvery = 0 }},
		{"negative rate", func(o *Options) { o.MaxBatchesPerSecond = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			_, err := NewOrchestrator(nil, nil, nil, opts, log.NewDiscardLogger())
			assert.True(t, fault.Is(err, fault.InvalidConfiguration), err)
		})
	}
}

func TestThrottle(t *testing.T) {
	assert.Nil(t, newThrottle(0))
	assert.NoError(t, newThrottle(0).Wait(context.Background()))

	th := newThrottle(20)
	start := time.Now()
	for range 25 {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "burst of 20 then 5 more at 20/s")
}
