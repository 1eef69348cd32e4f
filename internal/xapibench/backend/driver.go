package backend

import (
	"context"
	"time"

	"github.com/nsqlite/xapibench/internal/xapibench/generator"
)

// Count is the number of statements for one key of a group-by.
type Count struct {
	Key   string
	Count int64
}

// ActivityCount says how many actors produced exactly Events statements.
type ActivityCount struct {
	Events int64
	Actors int64
}

// Driver is the wire code for one storage technology. A Lake drives it and
// enforces the lifecycle, so a Driver does not track state itself.
//
// Group-by methods may return keys in any order and may omit keys with no
// statements.
type Driver interface {
	// Connect opens the connection and checks the store is reachable.
	Connect(ctx context.Context) error
	// SchemaExists reports whether the harness schema is present.
	SchemaExists(ctx context.Context) (bool, error)
	// CreateSchema creates tables, collections and indexes. It must fail
	// rather than reuse an existing schema.
	CreateSchema(ctx context.Context) error
	// DropSchema removes everything CreateSchema made. Nothing to drop is
	// not an error.
	DropSchema(ctx context.Context) error
	// InsertBatch stores every event of the batch or none of them.
	InsertBatch(ctx context.Context, batch generator.Batch) error

	Now(ctx context.Context) (time.Time, error)
	CountStatements(ctx context.Context) (int64, error)
	CountByCourse(ctx context.Context, courseIDs []string) ([]Count, error)
	CountByActor(ctx context.Context, actorIDs []string) ([]Count, error)
	CountByVerb(ctx context.Context) ([]Count, error)
	CountByOrg(ctx context.Context) ([]Count, error)
	CourseCardinality(ctx context.Context) (int64, error)
	TopCourses(ctx context.Context, limit int) ([]Count, error)
	ActorActivity(ctx context.Context) ([]ActivityCount, error)
	// LatestForCourse returns the newest statement timestamps of a course,
	// newest first.
	LatestForCourse(ctx context.Context, courseID string, limit int) ([]time.Time, error)

	Close() error
}
