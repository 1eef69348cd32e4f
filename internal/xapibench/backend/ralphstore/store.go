// Package ralphstore implements backend.Driver on top of the xAPI HTTP API
// of a learning record store such as Ralph.
//
// The xAPI has no schema and no delete, so the schema "exists" when the LRS
// answers its heartbeat and already holds statements, and dropping is a
// no-op.
//
// The xAPI has no count or group-by either. Every count and aggregate is
// computed client side by paging through GET /xAPI/statements, so row counts
// and distribution queries cost one request per PageSize statements and grow
// linearly with the store. Expect them to leave the sub-second range once the
// LRS holds more than a few thousand statements.
//
// A batch is posted in a single request, which the LRS stores all or
// nothing. Options.ChunkSize splits batches into several requests; a failed
// chunk then leaves the earlier chunks of its batch stored, since nothing can
// remove them. A request is retried on transport errors, 429 and 5xx answers;
// statement ids make a repost idempotent, so a 409 on a retry means an
// earlier attempt was stored.
package ralphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/validate"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
)

const (
	logNs = "ralphstore"

	heartbeatPath  = "/__heartbeat__"
	statementsPath = "/xAPI/statements"
)

// Options configure the LRS client.
type Options struct {
	// URL of the LRS, scheme and host only.
	URL      string
	Username string
	Password string

	// ChunkSize is the number of statements per POST. Zero posts every
	// batch in one request and keeps batch inserts atomic.
	ChunkSize int
	// PageSize is the limit asked for on every GET.
	PageSize int
	// Attempts per chunk, including the first one.
	Attempts   uint
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultOptions returns the options used for a local Ralph.
func DefaultOptions() Options {
	return Options{
		URL:        "http://localhost:8100",
		PageSize:   100,
		Attempts:   3,
		RetryDelay: 200 * time.Millisecond,
		Timeout:    time.Minute,
	}
}

type statementsPage struct {
	Statements []generator.Statement
	More       string
}

type rawStatementsPage struct {
	Statements []json.RawMessage `json:"statements"`
	More       string            `json:"more"`
}

// Store is a backend.Driver for one LRS.
type Store struct {
	opts   Options
	logger log.Logger
	http   httpClient
	// lastDate is the server clock seen on the last heartbeat.
	lastDate time.Time
}

var _ backend.Driver = (*Store)(nil)

// New returns a Store. Nothing is sent until Connect.
func New(opts Options, logger log.Logger) (*Store, error) {
	def := DefaultOptions()
	if opts.ChunkSize < 0 {
		opts.ChunkSize = 0
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.Attempts == 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid LRS URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid LRS URL %q: scheme must be http or https", base.Redacted())
	}

	return &Store{
		opts:   opts,
		logger: logger,
		http:   newHttpClient(base, opts.Username, opts.Password, opts.Timeout),
	}, nil
}

func (s *Store) Connect(ctx context.Context) error {
	if err := s.heartbeat(ctx); err != nil {
		return err
	}
	s.logger.InfoNs(logNs, "connected", log.KV{"url": s.http.baseURL.Redacted()})
	return nil
}

func (s *Store) heartbeat(ctx context.Context) error {
	params := requestParams{path: heartbeatPath}
	res, err := s.http.do(ctx, params)
	if err != nil {
		return err
	}
	if res.Status != http.StatusOK {
		return s.http.statusError(params, res)
	}
	if d, err := http.ParseTime(res.Headers.Get("Date")); err == nil {
		s.lastDate = d.UTC()
	}
	return nil
}

// SchemaExists reports whether the LRS already holds statements.
func (s *Store) SchemaExists(ctx context.Context) (bool, error) {
	if err := s.heartbeat(ctx); err != nil {
		return false, err
	}
	page, err := s.page(ctx, requestParams{
		path:  statementsPath,
		query: url.Values{"limit": {"1"}},
	})
	if err != nil {
		return false, err
	}
	return len(page.Statements) > 0, nil
}

// CreateSchema only checks the LRS is alive.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.heartbeat(ctx)
}

// DropSchema cannot remove statements through the xAPI.
func (s *Store) DropSchema(_ context.Context) error {
	s.logger.WarnNs(logNs, "statements cannot be deleted through the xAPI, drop is a no-op")
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, batch generator.Batch) error {
	chunk := s.opts.ChunkSize
	if chunk == 0 {
		chunk = batch.Len()
	}

	for start := 0; start < batch.Len(); start += chunk {
		end := min(start+chunk, batch.Len())

		stmts := make([]generator.Statement, 0, end-start)
		for _, ev := range batch.Events[start:end] {
			stmts = append(stmts, ev.Statement())
		}
		body, err := json.Marshal(stmts)
		if err != nil {
			return err
		}

		if err := s.postChunk(ctx, body); err != nil {
			if start > 0 {
				s.logger.WarnNs(logNs, "batch partially stored", log.KV{
					"stored": start,
					"failed": batch.Len() - start,
				})
			}
			return fmt.Errorf("chunk %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Store) postChunk(ctx context.Context, body []byte) error {
	params := requestParams{
		method: http.MethodPost,
		path:   statementsPath,
		body:   body,
	}

	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			res, err := s.http.do(ctx, params)
			if err != nil {
				return err
			}
			switch {
			case res.Status == http.StatusOK || res.Status == http.StatusNoContent:
				return nil
			case res.Status == http.StatusConflict && attempt > 1:
				return nil
			case res.Status == http.StatusTooManyRequests || res.Status >= 500:
				return s.http.statusError(params, res)
			}
			return retry.Unrecoverable(s.http.statusError(params, res))
		},
		retry.Context(ctx),
		retry.Attempts(s.opts.Attempts),
		retry.Delay(s.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.WarnNs(logNs, "retrying statements post", log.KV{
				"attempt": n + 1,
				"error":   err.Error(),
			})
		}),
	)
}

// Now returns the Date header of a heartbeat, the only clock the xAPI
// exposes.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	if err := s.heartbeat(ctx); err != nil {
		return time.Time{}, err
	}
	if s.lastDate.IsZero() {
		return time.Now().UTC(), nil
	}
	return s.lastDate, nil
}

func (s *Store) CountStatements(ctx context.Context) (int64, error) {
	return s.count(ctx, nil)
}

func (s *Store) CountByCourse(ctx context.Context, courseIDs []string) ([]backend.Count, error) {
	counts := make([]backend.Count, 0, len(courseIDs))
	for _, id := range courseIDs {
		n, err := s.count(ctx, url.Values{"activity": {id}})
		if err != nil {
			return nil, err
		}
		counts = append(counts, backend.Count{Key: id, Count: n})
	}
	return counts, nil
}

func (s *Store) CountByActor(ctx context.Context, actorIDs []string) ([]backend.Count, error) {
	counts := make([]backend.Count, 0, len(actorIDs))
	for _, id := range actorIDs {
		agent, err := json.Marshal(generator.StatementActor{
			ObjectType: "Agent",
			Account:    generator.AgentAccount{HomePage: generator.AccountHomePage, Name: id},
		})
		if err != nil {
			return nil, err
		}
		n, err := s.count(ctx, url.Values{"agent": {string(agent)}})
		if err != nil {
			return nil, err
		}
		counts = append(counts, backend.Count{Key: id, Count: n})
	}
	return counts, nil
}

func (s *Store) CountByVerb(ctx context.Context) ([]backend.Count, error) {
	return s.groupBy(ctx, generator.Statement.VerbName)
}

func (s *Store) CountByOrg(ctx context.Context) ([]backend.Count, error) {
	return s.groupBy(ctx, generator.Statement.Org)
}

func (s *Store) CourseCardinality(ctx context.Context) (int64, error) {
	counts, err := s.groupBy(ctx, generator.Statement.CourseID)
	return int64(len(counts)), err
}

// TopCourses returns every course count. The Lake sorts and truncates.
func (s *Store) TopCourses(ctx context.Context, _ int) ([]backend.Count, error) {
	return s.groupBy(ctx, generator.Statement.CourseID)
}

func (s *Store) ActorActivity(ctx context.Context) ([]backend.ActivityCount, error) {
	perActor, err := s.groupBy(ctx, generator.Statement.ActorID)
	if err != nil {
		return nil, err
	}
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

// LatestForCourse reads the first page only: the LRS returns newest first.
func (s *Store) LatestForCourse(ctx context.Context, courseID string, limit int) ([]time.Time, error) {
	page, err := s.page(ctx, requestParams{
		path: statementsPath,
		query: url.Values{
			"activity": {courseID},
			"limit":    {fmt.Sprint(limit)},
		},
	})
	if err != nil {
		return nil, err
	}

	latest := make([]time.Time, 0, len(page.Statements))
	for _, st := range page.Statements {
		t, err := st.Time()
		if err != nil {
			return nil, fmt.Errorf("statement %s: %w", st.ID, err)
		}
		latest = append(latest, t.UTC())
	}
	if len(latest) > limit {
		latest = latest[:limit]
	}
	return latest, nil
}

func (s *Store) Close() error {
	s.http.httpClient.CloseIdleConnections()
	return nil
}

func (s *Store) count(ctx context.Context, query url.Values) (int64, error) {
	var n int64
	err := s.scan(ctx, query, func(generator.Statement) bool {
		n++
		return true
	})
	return n, err
}

func (s *Store) groupBy(ctx context.Context, key func(generator.Statement) string) ([]backend.Count, error) {
	byKey := map[string]int64{}
	err := s.scan(ctx, nil, func(st generator.Statement) bool {
		byKey[key(st)]++
		return true
	})
	if err != nil {
		return nil, err
	}

	counts := make([]backend.Count, 0, len(byKey))
	for k, n := range byKey {
		counts = append(counts, backend.Count{Key: k, Count: n})
	}
	return counts, nil
}

// scan calls fn for every statement matching query, following the "more"
// links until the last page or until fn returns false.
func (s *Store) scan(ctx context.Context, query url.Values, fn func(generator.Statement) bool) error {
	q := url.Values{"limit": {fmt.Sprint(s.opts.PageSize)}}
	for k, vs := range query {
		q[k] = vs
	}
	params := requestParams{path: statementsPath, query: q}

	for {
		page, err := s.page(ctx, params)
		if err != nil {
			return err
		}
		for _, st := range page.Statements {
			if !fn(st) {
				return nil
			}
		}
		if page.More == "" || len(page.Statements) == 0 {
			return nil
		}
		params = requestParams{path: page.More}
	}
}

func (s *Store) page(ctx context.Context, params requestParams) (statementsPage, error) {
	res, err := s.http.do(ctx, params)
	if err != nil {
		return statementsPage{}, err
	}
	if res.Status != http.StatusOK {
		return statementsPage{}, s.http.statusError(params, res)
	}

	if ct := res.Headers.Get("Content-Type"); !validate.MediaType(ct, validate.ContentTypeJSON) {
		return statementsPage{}, fmt.Errorf("unexpected content type %q from %s", ct, params.path)
	}

	raw := rawStatementsPage{}
	if err := json.Unmarshal(res.Body, &raw); err != nil {
		return statementsPage{}, fmt.Errorf("failed decoding statements page: %w", err)
	}

	page := statementsPage{
		Statements: make([]generator.Statement, 0, len(raw.Statements)),
		More:       raw.More,
	}
	for i, b := range raw.Statements {
		st, err := generator.ParseStatement(b)
		if err != nil {
			return statementsPage{}, fmt.Errorf("invalid statement %d in page from %s: %w", i, params.path, err)
		}
		page.Statements = append(page.Statements, st)
	}
	return page, nil
}
