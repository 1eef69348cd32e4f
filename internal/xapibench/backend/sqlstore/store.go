// Package sqlstore implements backend.Driver on database/sql for the
// embedded (SQLite or NSQLite), columnar (ClickHouse) and distributed
// relational (Citus) stores.
//
// Batches are atomic through a transaction, so there is no internal retry.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/nsqlite/nsqlitego"
	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/generator"
)

const (
	logNs     = "sqlstore"
	tableName = "statements"
)

// Options locate a networked store.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Store is a backend.Driver for one SQL store.
type Store struct {
	dialect dialect
	dsn     string
	// target names the store in logs. It never holds credentials.
	target string
	table  string
	logger log.Logger

	db   *sql.DB
	pool *pgxpool.Pool
}

var _ backend.Driver = (*Store)(nil)

// NewSQLite returns a Store for a SQLite file, or for an NSQLite server
// when dsn is an http(s) URL.
func NewSQLite(dsn string, logger log.Logger) *Store {
	d := sqliteDialect
	d.driverName = "sqlite3"
	if strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://") {
		d.driverName = "nsqlite"
	}

	return &Store{
		dialect: d,
		dsn:     dsn,
		target:  redactDSN(dsn),
		table:   tableName,
		logger:  logger,
	}
}

// NewClickHouse returns a Store for a ClickHouse server. The table lives in
// opts.Database, which is created along with the table when missing.
func NewClickHouse(opts Options, logger log.Logger) *Store {
	return &Store{
		dialect: clickhouseDialect,
		dsn:     networkDSN("clickhouse", opts, ""),
		target:  net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		table:   opts.Database + "." + tableName,
		logger:  logger,
	}
}

// NewCitus returns a Store for a Citus coordinator or a plain PostgreSQL
// server.
func NewCitus(opts Options, logger log.Logger) *Store {
	return &Store{
		dialect: citusDialect,
		dsn:     networkDSN("postgres", opts, opts.Database),
		target:  net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)) + "/" + opts.Database,
		table:   tableName,
		logger:  logger,
	}
}

func networkDSN(scheme string, opts Options, database string) string {
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(opts.Username, opts.Password),
		Host:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Path:   "/" + database,
	}
	return u.String()
}

// redactDSN drops user info from URL style DSNs.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

func (s *Store) Connect(ctx context.Context) error {
	switch {
	case s.dialect.driverName == "":
		pool, err := pgxpool.New(ctx, s.dsn)
		if err != nil {
			return fmt.Errorf("error creating %s pool: %w", s.dialect.name, err)
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)

	case s.dialect.driverName == "sqlite3":
		if err := os.MkdirAll(path.Dir(s.dsn), 0755); err != nil {
			return err
		}
		db, err := sql.Open(s.dialect.driverName, s.dsn)
		if err != nil {
			return err
		}
		// One writer at a time, like the file itself allows.
		db.SetMaxOpenConns(1)
		s.db = db

	default:
		db, err := sql.Open(s.dialect.driverName, s.dsn)
		if err != nil {
			return err
		}
		s.db = db
	}

	if err := s.db.PingContext(ctx); err != nil {
		pingErr := fmt.Errorf("error pinging %s: %w", s.target, err)
		if closeErr := s.Close(); closeErr != nil {
			return multierror.Append(pingErr, closeErr)
		}
		return pingErr
	}

	s.logger.InfoNs(logNs, "connected", log.KV{
		"dialect": s.dialect.name,
		"driver":  s.driverLabel(),
		"target":  s.target,
	})
	return nil
}

func (s *Store) driverLabel() string {
	if s.pool != nil {
		return "pgx"
	}
	return s.dialect.driverName
}

func (s *Store) SchemaExists(ctx context.Context) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.dialect.schemaQuery, s.table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CreateSchema(ctx context.Context) error {
	for _, ddl := range s.dialect.createDDL(s.table) {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	if s.dialect.afterCreate != nil {
		mode, err := s.dialect.afterCreate(ctx, s.db, s.table)
		if err != nil {
			return err
		}
		s.logger.InfoNs(logNs, "table placement", log.KV{"table": s.table, "mode": mode})
	}
	return nil
}

func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table)
	return err
}

// InsertBatch stores the batch in one transaction.
func (s *Store) InsertBatch(ctx context.Context, batch generator.Batch) error {
	rows, err := s.rows(batch)
	if err != nil {
		return err
	}
	if s.pool != nil {
		return s.copyRows(ctx, rows)
	}
	return s.execRows(ctx, rows)
}

func (s *Store) rows(batch generator.Batch) ([][]any, error) {
	rows := make([][]any, 0, batch.Len())
	for _, ev := range batch.Events {
		body, err := ev.StatementJSON()
		if err != nil {
			return nil, fmt.Errorf("error encoding statement %s: %w", ev.ID, err)
		}

		var id any = ev.ID.String()
		if s.pool != nil {
			id = [16]byte(ev.ID)
		}
		rows = append(rows, []any{
			id,
			s.dialect.timeValue(ev.Timestamp),
			ev.Actor.ID.String(),
			ev.Verb.Value,
			ev.Course.ID,
			ev.Course.Org,
			string(body),
		})
	}
	return rows, nil
}

func (s *Store) execRows(ctx context.Context, rows [][]any) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = multierror.Append(err, rbErr)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.dialect.insertSQL(s.table))
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("error inserting event %v: %w", row[0], err)
		}
	}
	return tx.Commit()
}

func (s *Store) copyRows(ctx context.Context, rows [][]any) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = multierror.Append(err, rbErr)
		}
	}()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return err
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copied %d of %d rows", n, len(rows))
	}
	return tx.Commit(ctx)
}

func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var src any
	if err := s.db.QueryRowContext(ctx, s.dialect.nowQuery).Scan(&src); err != nil {
		return time.Time{}, err
	}
	return decodeTime(src)
}

func (s *Store) CountStatements(ctx context.Context) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT %s FROM %s", s.dialect.countAll, s.table)
	err := s.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

func (s *Store) CountByCourse(ctx context.Context, courseIDs []string) ([]backend.Count, error) {
	return s.countIn(ctx, "course_id", courseIDs)
}

func (s *Store) CountByActor(ctx context.Context, actorIDs []string) ([]backend.Count, error) {
	return s.countIn(ctx, "actor_id", actorIDs)
}

func (s *Store) CountByVerb(ctx context.Context) ([]backend.Count, error) {
	return s.countGrouped(ctx, s.groupQuery("verb", ""))
}

func (s *Store) CountByOrg(ctx context.Context) ([]backend.Count, error) {
	return s.countGrouped(ctx, s.groupQuery("org", ""))
}

func (s *Store) CourseCardinality(ctx context.Context) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT %s FROM %s", s.dialect.countUnique("course_id"), s.table)
	err := s.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

func (s *Store) TopCourses(ctx context.Context, limit int) ([]backend.Count, error) {
	q := s.groupQuery("course_id", "") + fmt.Sprintf(" ORDER BY n DESC, course_id LIMIT %d", limit)
	return s.countGrouped(ctx, q)
}

func (s *Store) ActorActivity(ctx context.Context) ([]backend.ActivityCount, error) {
	q := fmt.Sprintf(
		"SELECT t.n, %s FROM (SELECT actor_id, %s AS n FROM %s GROUP BY actor_id) t GROUP BY t.n",
		s.dialect.countAll, s.dialect.countAll, s.table,
	)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activity []backend.ActivityCount
	for rows.Next() {
		var a backend.ActivityCount
		if err := rows.Scan(&a.Events, &a.Actors); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}

func (s *Store) LatestForCourse(ctx context.Context, courseID string, limit int) ([]time.Time, error) {
	q := fmt.Sprintf(
		"SELECT emission_time FROM %s WHERE course_id = %s ORDER BY emission_time DESC LIMIT %d",
		s.table, s.dialect.placeholder(1), limit,
	)
	rows, err := s.db.QueryContext(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var latest []time.Time
	for rows.Next() {
		var src any
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		t, err := decodeTime(src)
		if err != nil {
			return nil, err
		}
		latest = append(latest, t)
	}
	return latest, rows.Err()
}

// Close releases the connection and the pool behind it.
func (s *Store) Close() error {
	var result *multierror.Error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.db = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return result.ErrorOrNil()
}

// groupQuery counts statements per column, restricted by where when set.
func (s *Store) groupQuery(column, where string) string {
	q := fmt.Sprintf("SELECT %s, %s AS n FROM %s", column, s.dialect.countAll, s.table)
	if where != "" {
		q += " WHERE " + where
	}
	return q + " GROUP BY " + column
}

func (s *Store) countIn(ctx context.Context, column string, keys []string) ([]backend.Count, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	where := fmt.Sprintf("%s IN (%s)", column, s.dialect.placeholders(1, len(keys)))
	return s.countGrouped(ctx, s.groupQuery(column, where), args...)
}

func (s *Store) countGrouped(ctx context.Context, q string, args ...any) ([]backend.Count, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []backend.Count
	for rows.Next() {
		var c backend.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
