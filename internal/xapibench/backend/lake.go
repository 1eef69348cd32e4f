// Package backend defines the uniform contract every storage backend meets
// during a benchmark run.
//
// A Driver holds the store specific wire code. A Lake wraps one Driver and
// owns the lifecycle:
//
//	Uninitialized -> CreateTables -> Ready -> BatchInsert* -> Ready -> DropTables -> Uninitialized
//
// Queries and row counts are only valid in Ready.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
)

const (
	logNs = "lake"

	// TopCoursesLimit is how many courses the course distribution lists.
	TopCoursesLimit = 10
	// LatestLimit is how many statements the latest-for-course query reads.
	LatestLimit = 10
)

// State of a Lake.
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Uninitialized"
}

// Lake is one backend taking part in a run. It is not safe for concurrent
// use: the orchestrator calls it from a single goroutine.
type Lake struct {
	kind    Kind
	driver  Driver
	logger  log.Logger
	state   State
	dropped bool
	// inserted counts only batches the driver fully acknowledged.
	inserted int64
}

// NewLake wraps driver. Call Open before anything else.
func NewLake(kind Kind, driver Driver, logger log.Logger) *Lake {
	return &Lake{
		kind:   kind,
		driver: driver,
		logger: logger,
	}
}

// Kind returns the backend kind.
func (l *Lake) Kind() Kind {
	return l.kind
}

// State returns the current lifecycle state.
func (l *Lake) State() State {
	return l.state
}

// Open connects the driver and detects an existing schema, in which case
// the Lake starts Ready.
func (l *Lake) Open(ctx context.Context) error {
	if err := l.driver.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting to %s: %w", l.kind, err)
	}

	exists, err := l.driver.SchemaExists(ctx)
	if err != nil {
		return fmt.Errorf("error probing %s schema: %w", l.kind, err)
	}
	if exists {
		l.state = Ready
	}

	l.logger.InfoNs(logNs, "backend opened", log.KV{
		"backend": l.kind.Value,
		"state":   l.state.String(),
	})
	return nil
}

// CreateTables creates the schema. It fails with SchemaExists when the
// schema is already there, unless DropTables ran first.
func (l *Lake) CreateTables(ctx context.Context) error {
	const op = "create_tables"

	if l.state == Ready {
		return fault.Errorf(fault.SchemaExists, op, "%s schema already exists, drop it first", l.kind)
	}
	if !l.dropped {
		exists, err := l.driver.SchemaExists(ctx)
		if err != nil {
			return fmt.Errorf("error probing %s schema: %w", l.kind, err)
		}
		if exists {
			return fault.Errorf(fault.SchemaExists, op, "%s schema already exists, drop it first", l.kind)
		}
	}

	start := time.Now()
	if err := l.driver.CreateSchema(ctx); err != nil {
		return fmt.Errorf("error creating %s schema: %w", l.kind, err)
	}
	l.state = Ready

	l.logger.InfoNs(logNs, "tables created", log.KV{
		"backend":  l.kind.Value,
		"duration": time.Since(start).String(),
	})
	return nil
}

// DropTables removes the schema. Dropping nothing succeeds.
func (l *Lake) DropTables(ctx context.Context) error {
	start := time.Now()
	if err := l.driver.DropSchema(ctx); err != nil {
		return fmt.Errorf("error dropping %s schema: %w", l.kind, err)
	}
	l.state = Uninitialized
	l.dropped = true

	l.logger.InfoNs(logNs, "tables dropped", log.KV{
		"backend":  l.kind.Value,
		"duration": time.Since(start).String(),
	})
	return nil
}

// BatchInsert stores the whole batch. On failure nothing is counted and the
// Lake stays Ready.
func (l *Lake) BatchInsert(ctx context.Context, batch generator.Batch) error {
	const op = "batch_insert"

	if err := l.requireReady(op); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := l.driver.InsertBatch(ctx, batch); err != nil {
		if _, ok := fault.ConditionOf(err); ok {
			return err
		}
		return fault.New(
			fault.BatchInsertFailed, op,
			fmt.Errorf("batch %d of %d events: %w", batch.Sequence, batch.Len(), err),
		)
	}

	l.inserted += int64(batch.Len())
	return nil
}

// RunQueries times the fixed set of representative queries built from the
// generator summary.
func (l *Lake) RunQueries(ctx context.Context, summary generator.Summary) (QueryReport, error) {
	const op = "run_queries"

	report := QueryReport{}
	if err := l.requireReady(op); err != nil {
		return report, err
	}

	topCourses := summary.TopCourseIDs()
	sampleActors := summary.SampleActorIDs()

	steps := []queryStep{
		{name: "count_all", run: func() (int64, []Count, error) {
			n, err := l.driver.CountStatements(ctx)
			return n, nil, err
		}},
		{name: "count_top_courses", run: func() (int64, []Count, error) {
			counts, err := l.driver.CountByCourse(ctx, topCourses)
			counts = alignCounts(topCourses, counts)
			return sumCounts(counts), counts, err
		}},
		{name: "count_by_verb", run: func() (int64, []Count, error) {
			counts, err := l.driver.CountByVerb(ctx)
			return sumCounts(counts), sortCounts(counts), err
		}},
		{name: "count_sample_actors", run: func() (int64, []Count, error) {
			counts, err := l.driver.CountByActor(ctx, sampleActors)
			counts = alignCounts(sampleActors, counts)
			return sumCounts(counts), counts, err
		}},
	}
	if len(topCourses) > 0 {
		steps = append(steps, queryStep{name: "latest_for_top_course", run: func() (int64, []Count, error) {
			latest, err := l.driver.LatestForCourse(ctx, topCourses[0], LatestLimit)
			return int64(len(latest)), nil, err
		}})
	}

	start := time.Now()
	for _, step := range steps {
		res, err := step.time()
		if err != nil {
			return report, fault.New(fault.QueryFailed, op, fmt.Errorf("%s: %w", step.name, err))
		}
		report.Results = append(report.Results, res)
	}
	report.Total = time.Since(start)

	l.logger.DebugNs(logNs, "queries done", log.KV{
		"backend":  l.kind.Value,
		"duration": report.Total.String(),
	})
	return report, nil
}

// RunDistributionQueries runs the heavy aggregate queries. It can take a
// long time on large data sets and must not run inside the batch loop.
func (l *Lake) RunDistributionQueries(ctx context.Context) (DistributionReport, error) {
	const op = "run_distribution_queries"

	report := DistributionReport{}
	if err := l.requireReady(op); err != nil {
		return report, err
	}

	steps := []queryStep{
		{name: "verb_distribution", run: func() (int64, []Count, error) {
			counts, err := l.driver.CountByVerb(ctx)
			report.Verbs = sortCounts(counts)
			return int64(len(counts)), nil, err
		}},
		{name: "org_distribution", run: func() (int64, []Count, error) {
			counts, err := l.driver.CountByOrg(ctx)
			report.Orgs = sortCounts(counts)
			return int64(len(counts)), nil, err
		}},
		{name: "course_cardinality", run: func() (int64, []Count, error) {
			n, err := l.driver.CourseCardinality(ctx)
			report.DistinctCourses = n
			return n, nil, err
		}},
		{name: "top_courses", run: func() (int64, []Count, error) {
			counts, err := l.driver.TopCourses(ctx, TopCoursesLimit)
			counts = sortCounts(counts)
			if len(counts) > TopCoursesLimit {
				counts = counts[:TopCoursesLimit]
			}
			report.TopCourses = counts
			return int64(len(counts)), nil, err
		}},
		{name: "actor_activity", run: func() (int64, []Count, error) {
			activity, err := l.driver.ActorActivity(ctx)
			report.ActorActivity = ActivityHistogram(activity)
			return int64(len(report.ActorActivity)), nil, err
		}},
	}

	start := time.Now()
	for _, step := range steps {
		res, err := step.time()
		if err != nil {
			return DistributionReport{}, fault.New(fault.QueryFailed, op, fmt.Errorf("%s: %w", step.name, err))
		}
		report.Timings = append(report.Timings, res)
	}
	report.Total = time.Since(start)

	l.logger.InfoNs(logNs, "distribution queries done", log.KV{
		"backend":  l.kind.Value,
		"duration": report.Total.String(),
	})
	return report, nil
}

// CurrentTime returns the backend clock.
func (l *Lake) CurrentTime(ctx context.Context) (time.Time, error) {
	t, err := l.driver.Now(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("error reading %s time: %w", l.kind, err)
	}
	return t, nil
}

// RowCounts returns how many statements the backend holds.
func (l *Lake) RowCounts(ctx context.Context) (RowCounts, error) {
	const op = "row_counts"

	if err := l.requireReady(op); err != nil {
		return RowCounts{}, err
	}
	n, err := l.driver.CountStatements(ctx)
	if err != nil {
		return RowCounts{}, fault.New(fault.QueryFailed, op, err)
	}
	return RowCounts{Statements: n, Inserted: l.inserted}, nil
}

// Close releases the driver.
func (l *Lake) Close() error {
	if err := l.driver.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", l.kind, err)
	}
	return nil
}

func (l *Lake) requireReady(op string) error {
	if l.state != Ready {
		return fault.Errorf(fault.NotReady, op, "%s tables are not created", l.kind)
	}
	return nil
}

type queryStep struct {
	name string
	run  func() (int64, []Count, error)
}

func (q queryStep) time() (QueryResult, error) {
	start := time.Now()
	value, counts, err := q.run()
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Name:     q.name,
		Duration: time.Since(start),
		Value:    value,
		Counts:   counts,
	}, nil
}
