// Package backendtest provides an in-memory backend.Driver for testing the
// lake lifecycle and the orchestrator without a live store.
package backendtest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
)

// ErrInjected is returned by operations a test asked to fail.
var ErrInjected = errors.New("injected failure")

var _ backend.Driver = (*Driver)(nil)

// Driver keeps statements in memory and records every call it receives.
type Driver struct {
	mu sync.Mutex

	schema bool
	events []generator.Event
	calls  []string

	// FailInsertOn makes the insert of the batch with this sequence fail.
	// Negative disables it.
	FailInsertOn int
	// FailQueries makes every query fail.
	FailQueries bool
	// QueryDelay is slept, honoring ctx, before every query.
	QueryDelay time.Duration
	Clock      func() time.Time
}

// NewDriver returns an empty Driver without schema.
func NewDriver() *Driver {
	return &Driver{FailInsertOn: -1, Clock: time.Now}
}

// NewPopulatedDriver returns a Driver whose schema exists and holds the
// events of batches.
func NewPopulatedDriver(batches ...generator.Batch) *Driver {
	d := NewDriver()
	d.schema = true
	for _, b := range batches {
		d.events = append(d.events, b.Events...)
	}
	return d
}

// Calls returns the names of the operations received so far.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// CountCalls returns how many times op was called.
func (d *Driver) CountCalls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Len returns the number of stored statements.
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *Driver) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op)
}

func (d *Driver) query(ctx context.Context, op string) error {
	d.record(op)
	if d.QueryDelay > 0 {
		select {
		case <-time.After(d.QueryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.FailQueries {
		return ErrInjected
	}
	return ctx.Err()
}

func (d *Driver) Connect(ctx context.Context) error {
	d.record("connect")
	return ctx.Err()
}

func (d *Driver) SchemaExists(_ context.Context) (bool, error) {
	d.record("schema_exists")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schema, nil
}

func (d *Driver) CreateSchema(_ context.Context) error {
	d.record("create_schema")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.schema {
		return errors.New("table statements already exists")
	}
	d.schema = true
	return nil
}

func (d *Driver) DropSchema(_ context.Context) error {
	d.record("drop_schema")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schema = false
	d.events = nil
	return nil
}

func (d *Driver) InsertBatch(ctx context.Context, batch generator.Batch) error {
	d.record("insert_batch")
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.schema {
		return errors.New("no such table: statements")
	}
	if batch.Sequence == d.FailInsertOn {
		return ErrInjected
	}
	d.events = append(d.events, batch.Events...)
	return nil
}

func (d *Driver) Now(ctx context.Context) (time.Time, error) {
	d.record("now")
	return d.Clock(), ctx.Err()
}

func (d *Driver) CountStatements(ctx context.Context) (int64, error) {
	if err := d.query(ctx, "count_statements"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.events)), nil
}

func (d *Driver) CountByCourse(ctx context.Context, courseIDs []string) ([]backend.Count, error) {
	if err := d.query(ctx, "count_by_course"); err != nil {
		return nil, err
	}
	return d.groupBy(func(ev generator.Event) string { return ev.Course.ID }, courseIDs), nil
}

func (d *Driver) CountByActor(ctx context.Context, actorIDs []string) ([]backend.Count, error) {
	if err := d.query(ctx, "count_by_actor"); err != nil {
		return nil, err
	}
	return d.groupBy(func(ev generator.Event) string { return ev.Actor.ID.String() }, actorIDs), nil
}

func (d *Driver) CountByVerb(ctx context.Context) ([]backend.Count, error) {
	if err := d.query(ctx, "count_by_verb"); err != nil {
		return nil, err
	}
	return d.groupBy(func(ev generator.Event) string { return ev.Verb.Value }, nil), nil
}

func (d *Driver) CountByOrg(ctx context.Context) ([]backend.Count, error) {
	if err := d.query(ctx, "count_by_org"); err != nil {
		return nil, err
	}
	return d.groupBy(func(ev generator.Event) string { return ev.Course.Org }, nil), nil
}

func (d *Driver) CourseCardinality(ctx context.Context) (int64, error) {
	if err := d.query(ctx, "course_cardinality"); err != nil {
		return 0, err
	}
	return int64(len(d.groupBy(func(ev generator.Event) string { return ev.Course.ID }, nil))), nil
}

func (d *Driver) TopCourses(ctx context.Context, limit int) ([]backend.Count, error) {
	if err := d.query(ctx, "top_courses"); err != nil {
		return nil, err
	}
	counts := d.groupBy(func(ev generator.Event) string { return ev.Course.ID }, nil)
	slices.SortFunc(counts, func(a, b backend.Count) int { return int(b.Count - a.Count) })
	if len(counts) > limit {
		counts = counts[:limit]
	}
	return counts, nil
}

func (d *Driver) ActorActivity(ctx context.Context) ([]backend.ActivityCount, error) {
	if err := d.query(ctx, "actor_activity"); err != nil {
		return nil, err
	}
	perActor := d.groupBy(func(ev generator.Event) string { return ev.Actor.ID.String() }, nil)
	byEvents := map[int64]int64{}
	for _, c := range perActor {
		byEvents[c.Count]++
	}
	activity := make([]backend.ActivityCount, 0, len(byEvents))
	for events, actors := range byEvents {
		activity = append(activity, backend.ActivityCount{Events: events, Actors: actors})
	}
	return activity, nil
}

func (d *Driver) LatestForCourse(ctx context.Context, courseID string, limit int) ([]time.Time, error) {
	if err := d.query(ctx, "latest_for_course"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var latest []time.Time
	for _, ev := range d.events {
		if ev.Course.ID == courseID {
			latest = append(latest, ev.Timestamp)
		}
	}
	slices.SortFunc(latest, func(a, b time.Time) int { return b.Compare(a) })
	if len(latest) > limit {
		latest = latest[:limit]
	}
	return latest, nil
}

func (d *Driver) Close() error {
	d.record("close")
	return nil
}

// groupBy counts events by key, restricted to only when it is not nil.
func (d *Driver) groupBy(key func(generator.Event) string, only []string) []backend.Count {
	d.mu.Lock()
	defer d.mu.Unlock()

	var filter map[string]bool
	if only != nil {
		filter = make(map[string]bool, len(only))
		for _, k := range only {
			filter[k] = true
		}
	}

	byKey := map[string]int64{}
	for _, ev := range d.events {
		k := key(ev)
		if filter != nil && !filter[k] {
			continue
		}
		byKey[k]++
	}

	counts := make([]backend.Count, 0, len(byKey))
	for k, n := range byKey {
		counts = append(counts, backend.Count{Key: k, Count: n})
	}
	return counts
}
