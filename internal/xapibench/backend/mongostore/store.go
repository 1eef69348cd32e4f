// Package mongostore implements backend.Driver for MongoDB.
//
// Each statement is one document keyed by its statement id. The xAPI body is
// kept verbatim under "statement", next to flat copies of the fields the
// queries group by.
//
// Inserts rely on the driver's retryable writes. A batch that fails part way
// is rolled back by deleting the documents it managed to insert.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	logNs          = "mongostore"
	collectionName = "statements"
	closeTimeout   = 10 * time.Second
)

// Options locate the MongoDB deployment.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

type document struct {
	ID        string    `bson:"_id"`
	Timestamp time.Time `bson:"timestamp"`
	ActorID   string    `bson:"actor_id"`
	Verb      string    `bson:"verb"`
	CourseID  string    `bson:"course_id"`
	Org       string    `bson:"org"`
	Statement bson.D    `bson:"statement"`
}

type groupCount struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"n"`
}

// Store is a backend.Driver for one MongoDB database.
type Store struct {
	opts   Options
	logger log.Logger

	client *mongo.Client
	db     *mongo.Database
	coll   *mongo.Collection
}

var _ backend.Driver = (*Store)(nil)

// New returns a Store. Nothing is dialed until Connect.
func New(opts Options, logger log.Logger) *Store {
	return &Store{opts: opts, logger: logger}
}

// newWithClient returns a connected Store on top of client.
func newWithClient(client *mongo.Client, database string, logger log.Logger) *Store {
	s := &Store{opts: Options{Database: database}, logger: logger}
	s.attach(client)
	return s
}

func (s *Store) attach(client *mongo.Client) {
	s.client = client
	s.db = client.Database(s.opts.Database)
	s.coll = s.db.Collection(collectionName)
}

func (s *Store) clientOptions() *options.ClientOptions {
	host := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	opts := options.Client().
		ApplyURI("mongodb://" + host).
		SetAppName("xapibench").
		SetRetryWrites(true)
	if s.opts.Username != "" {
		opts.SetAuth(options.Credential{
			Username: s.opts.Username,
			Password: s.opts.Password,
		})
	}
	return opts
}

func (s *Store) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, s.clientOptions())
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		pingErr := fmt.Errorf("error pinging mongo: %w", err)
		if discErr := client.Disconnect(ctx); discErr != nil {
			return multierror.Append(pingErr, discErr)
		}
		return pingErr
	}
	s.attach(client)

	s.logger.InfoNs(logNs, "connected", log.KV{
		"host":     net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)),
		"database": s.opts.Database,
	})
	return nil
}

func (s *Store) SchemaExists(ctx context.Context) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: collectionName}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// CreateSchema creates the collection and its indexes. The server rejects
// the creation when the collection already exists.
func (s *Store) CreateSchema(ctx context.Context) error {
	if err := s.db.CreateCollection(ctx, collectionName); err != nil {
		return err
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexModels())
	return err
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}}},
		{Keys: bson.D{{Key: "verb", Value: 1}}},
		{Keys: bson.D{{Key: "org", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	}
}

// DropSchema drops the collection. Dropping a missing collection is not an
// error for the server.
func (s *Store) DropSchema(ctx context.Context) error {
	return s.coll.Drop(ctx)
}

func (s *Store) InsertBatch(ctx context.Context, batch generator.Batch) error {
	docs := make([]any, 0, batch.Len())
	ids := make([]string, 0, batch.Len())
	for _, ev := range batch.Events {
		doc, err := toDocument(ev)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}

	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}

	inserted := insertedPrefix(err, len(ids))
	if inserted == 0 {
		return err
	}
	// The compensation must run even when ctx is what failed the insert.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	res, delErr := s.coll.DeleteMany(cctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids[:inserted]}}}})
	if delErr != nil {
		return multierror.Append(err, fmt.Errorf("error removing partial batch: %w", delErr))
	}

	s.logger.WarnNs(logNs, "partial batch removed", log.KV{
		"batch":   batch.Sequence,
		"removed": res.DeletedCount,
	})
	return err
}

func toDocument(ev generator.Event) (document, error) {
	body, err := ev.StatementJSON()
	if err != nil {
		return document{}, fmt.Errorf("error encoding statement %s: %w", ev.ID, err)
	}
	var stmt bson.D
	if err := bson.UnmarshalExtJSON(body, false, &stmt); err != nil {
		return document{}, fmt.Errorf("error converting statement %s: %w", ev.ID, err)
	}

	return document{
		ID:        ev.ID.String(),
		Timestamp: ev.Timestamp,
		ActorID:   ev.Actor.ID.String(),
		Verb:      ev.Verb.Value,
		CourseID:  ev.Course.ID,
		Org:       ev.Course.Org,
		Statement: stmt,
	}, nil
}

// insertedPrefix returns how many leading documents of an ordered insert of
// n documents may be stored after err.
func insertedPrefix(err error, n int) int {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return n
	}
	first := n
	for _, we := range bwe.WriteErrors {
		first = min(first, we.Index)
	}
	return first
}

func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var res struct {
		LocalTime time.Time `bson:"localTime"`
	}
	err := s.db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&res)
	return res.LocalTime.UTC(), err
}

func (s *Store) CountStatements(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.D{})
}

func (s *Store) CountByCourse(ctx context.Context, courseIDs []string) ([]backend.Count, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	return s.aggregateCounts(ctx, groupPipeline("course_id", inFilter("course_id", courseIDs)))
}

func (s *Store) CountByActor(ctx context.Context, actorIDs []string) ([]backend.Count, error) {
	if len(actorIDs) == 0 {
		return nil, nil
	}
	return s.aggregateCounts(ctx, groupPipeline("actor_id", inFilter("actor_id", actorIDs)))
}

func (s *Store) CountByVerb(ctx context.Context) ([]backend.Count, error) {
	return s.aggregateCounts(ctx, groupPipeline("verb", nil))
}

func (s *Store) CountByOrg(ctx context.Context) ([]backend.Count, error) {
	return s.aggregateCounts(ctx, groupPipeline("org", nil))
}

func (s *Store) CourseCardinality(ctx context.Context) (int64, error) {
	pipeline := append(
		groupPipeline("course_id", nil),
		bson.D{{Key: "$count", Value: "n"}},
	)
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	var res []struct {
		N int64 `bson:"n"`
	}
	if err := cur.All(ctx, &res); err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0].N, nil
}

func (s *Store) TopCourses(ctx context.Context, limit int) ([]backend.Count, error) {
	pipeline := append(
		groupPipeline("course_id", nil),
		bson.D{{Key: "$sort", Value: bson.D{{Key: "n", Value: -1}, {Key: "_id", Value: 1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	)
	return s.aggregateCounts(ctx, pipeline)
}

func (s *Store) ActorActivity(ctx context.Context) ([]backend.ActivityCount, error) {
	pipeline := append(
		groupPipeline("actor_id", nil),
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$n"},
			{Key: "actors", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	)
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var res []struct {
		Events int64 `bson:"_id"`
		Actors int64 `bson:"actors"`
	}
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}

	activity := make([]backend.ActivityCount, 0, len(res))
	for _, r := range res {
		activity = append(activity, backend.ActivityCount{Events: r.Events, Actors: r.Actors})
	}
	return activity, nil
}

func (s *Store) LatestForCourse(ctx context.Context, courseID string, limit int) ([]time.Time, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.D{{Key: "course_id", Value: courseID}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	latest := make([]time.Time, 0, len(docs))
	for _, d := range docs {
		latest = append(latest, d.Timestamp.UTC())
	}
	return latest, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := s.client.Disconnect(ctx)
	s.client = nil
	return err
}

func (s *Store) aggregateCounts(ctx context.Context, pipeline mongo.Pipeline) ([]backend.Count, error) {
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var res []groupCount
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}

	counts := make([]backend.Count, 0, len(res))
	for _, r := range res {
		counts = append(counts, backend.Count{Key: r.Key, Count: r.Count})
	}
	return counts, nil
}

// groupPipeline counts documents per field, after an optional $match.
func groupPipeline(field string, match bson.D) mongo.Pipeline {
	var pipeline mongo.Pipeline
	if match != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	return append(pipeline, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: "$" + field},
		{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
	}}})
}

func inFilter(field string, values []string) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: "$in", Value: slices.Clone(values)}}}}
}
