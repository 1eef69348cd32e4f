package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// columns of the statements table, in insert order.
var columns = []string{
	"event_id", "emission_time", "actor_id", "verb", "course_id", "org", "event_str",
}

// dialect holds everything that differs between the SQL stores.
type dialect struct {
	name string
	// driverName is the database/sql driver. Empty when the store opens its
	// own pool.
	driverName string

	countAll    string
	countUnique func(column string) string

	createDDL   func(table string) []string
	schemaQuery string
	nowQuery    string

	placeholder func(n int) string
	timeValue   func(t time.Time) any

	// insertSQL is the statement prepared once per batch. Empty means the
	// store ingests with COPY.
	insertSQL func(table string) string

	// afterCreate runs once the table exists.
	afterCreate func(ctx context.Context, db *sql.DB, table string) (string, error)
}

var sqliteDialect = dialect{
	name:        "sqlite",
	countAll:    "count(*)",
	countUnique: func(c string) string { return "count(DISTINCT " + c + ")" },
	createDDL: func(table string) []string {
		return []string{
			`CREATE TABLE ` + table + ` (
				event_id TEXT PRIMARY KEY NOT NULL,
				emission_time INTEGER NOT NULL,
				actor_id TEXT NOT NULL,
				verb TEXT NOT NULL,
				course_id TEXT NOT NULL,
				org TEXT NOT NULL,
				event_str TEXT NOT NULL
			)`,
			`CREATE INDEX ` + table + `_course ON ` + table + `(course_id, emission_time)`,
			`CREATE INDEX ` + table + `_actor ON ` + table + `(actor_id)`,
			`CREATE INDEX ` + table + `_verb ON ` + table + `(verb)`,
			`CREATE INDEX ` + table + `_org ON ` + table + `(org)`,
		}
	},
	schemaQuery: `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
	nowQuery:    `SELECT CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)`,
	placeholder: func(int) string { return "?" },
	timeValue:   func(t time.Time) any { return t.UnixMilli() },
	insertSQL: func(table string) string {
		return fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(columns, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
		)
	},
}

var clickhouseDialect = dialect{
	name:        "clickhouse",
	driverName:  "clickhouse",
	countAll:    "toInt64(count())",
	countUnique: func(c string) string { return "toInt64(uniqExact(" + c + "))" },
	createDDL: func(table string) []string {
		db, _, _ := strings.Cut(table, ".")
		return []string{
			`CREATE DATABASE IF NOT EXISTS ` + db,
			`CREATE TABLE ` + table + ` (
				event_id UUID,
				emission_time DateTime64(3, 'UTC'),
				actor_id String,
				verb LowCardinality(String),
				course_id String,
				org LowCardinality(String),
				event_str String
			)
			ENGINE = MergeTree
			ORDER BY (org, course_id, verb, actor_id, emission_time)`,
		}
	},
	schemaQuery: `SELECT toInt64(count()) FROM system.tables WHERE concat(database, '.', name) = ?`,
	nowQuery:    `SELECT now64(3)`,
	placeholder: func(int) string { return "?" },
	timeValue:   func(t time.Time) any { return t },
	// clickhouse-go collects every Exec of a prepared insert into one block
	// sent on Commit.
	insertSQL: func(table string) string {
		return fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(columns, ", "))
	},
}

var citusDialect = dialect{
	name:        "citus",
	countAll:    "count(*)",
	countUnique: func(c string) string { return "count(DISTINCT " + c + ")" },
	createDDL: func(table string) []string {
		return []string{
			`CREATE TABLE ` + table + ` (
				event_id UUID NOT NULL,
				emission_time TIMESTAMPTZ NOT NULL,
				actor_id TEXT NOT NULL,
				verb TEXT NOT NULL,
				course_id TEXT NOT NULL,
				org TEXT NOT NULL,
				event_str JSONB NOT NULL,
				PRIMARY KEY (course_id, event_id)
			)`,
			`CREATE INDEX ` + table + `_course_time ON ` + table + `(course_id, emission_time DESC)`,
			`CREATE INDEX ` + table + `_actor ON ` + table + `(actor_id)`,
			`CREATE INDEX ` + table + `_verb ON ` + table + `(verb)`,
		}
	},
	schemaQuery: `SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
	nowQuery:    `SELECT now()`,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	timeValue:   func(t time.Time) any { return t },
	afterCreate: distributeTable,
}

// distributeTable shards the table by course when the citus extension is
// installed, so course queries hit a single shard. On plain PostgreSQL the
// table stays local.
func distributeTable(ctx context.Context, db *sql.DB, table string) (string, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM pg_extension WHERE extname = 'citus'`).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("error probing citus extension: %w", err)
	}
	if n == 0 {
		return "local", nil
	}

	_, err = db.ExecContext(ctx, `SELECT create_distributed_table($1, 'course_id')`, table)
	if err != nil {
		return "", fmt.Errorf("error distributing %s: %w", table, err)
	}
	return "distributed", nil
}

// placeholders returns n placeholders starting at position from.
func (d dialect) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range n {
		ph[i] = d.placeholder(from + i)
	}
	return strings.Join(ph, ", ")
}

// decodeTime converts what a driver returns for a time column or a now()
// query into a UTC time.
func decodeTime(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case []byte:
		return parseTimeString(string(v))
	case string:
		return parseTimeString(v)
	}
	return time.Time{}, fmt.Errorf("unexpected time value %T", src)
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unexpected time value %q", s)
}
