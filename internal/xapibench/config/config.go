// Package config holds the run configuration of xapibench.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	xlog "github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/version"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
)

const (
	op = "configure"

	defaultSQLitePath = "./data/xapibench.db"
)

// Config represents the configuration for xapibench.
type Config struct {
	Backend           string `arg:"--backend,env:XAPIBENCH_BACKEND" help:"Backend to benchmark (clickhouse, mongo, citus, ralph, sqlite)"`
	NumBatches        int    `arg:"--num-batches,env:XAPIBENCH_NUM_BATCHES" help:"Number of batches to insert" default:"1"`
	BatchSize         int    `arg:"--batch-size,env:XAPIBENCH_BATCH_SIZE" help:"Statements per batch" default:"10000"`
	DropTablesFirst   bool   `arg:"--drop-tables-first,env:XAPIBENCH_DROP_TABLES_FIRST" help:"Drop the backend tables before creating them" default:"false"`
	DistributionsOnly bool   `arg:"--distributions-only,env:XAPIBENCH_DISTRIBUTIONS_ONLY" help:"Only run the distribution queries against existing data" default:"false"`

	Host     string `arg:"--host,env:XAPIBENCH_HOST" help:"Backend host" default:"localhost"`
	Port     int    `arg:"--port,env:XAPIBENCH_PORT" help:"Backend port" default:"18123"`
	Username string `arg:"--username,env:XAPIBENCH_USERNAME" help:"Backend user" default:"ch_lrs"`
	Password string `arg:"--password,env:XAPIBENCH_PASSWORD" help:"Backend password, prompted for when empty"`
	Database string `arg:"--database,env:XAPIBENCH_DATABASE" help:"Database, schema or collection database" default:"xapi"`
	DSN      string `arg:"--dsn,env:XAPIBENCH_DSN" help:"SQLite file path or NSQLite server URL, overrides host and port for the sqlite backend"`

	Seed            uint64 `arg:"--seed,env:XAPIBENCH_SEED" help:"Generator seed, 0 picks a fresh one" default:"0"`
	GeneratorConfig string `arg:"--generator-config,env:XAPIBENCH_GENERATOR_CONFIG" help:"YAML file with generator parameters"`

	ProgressEvery       int     `arg:"--progress-every,env:XAPIBENCH_PROGRESS_EVERY" help:"Report progress every N batches" default:"10"`
	QueryEvery          int     `arg:"--query-every,env:XAPIBENCH_QUERY_EVERY" help:"Run the query set every N batches" default:"100"`
	Pipeline            bool    `arg:"--pipeline,env:XAPIBENCH_PIPELINE" help:"Generate the next batch while the current one is inserted" default:"false"`
	MaxBatchesPerSecond float64 `arg:"--max-batches-per-second,env:XAPIBENCH_MAX_BATCHES_PER_SECOND" help:"Throttle batch inserts, 0 disables throttling" default:"0"`

	LRSChunkSize   int           `arg:"--lrs-chunk-size,env:XAPIBENCH_LRS_CHUNK_SIZE" help:"Statements per POST for the ralph backend, 0 posts each batch in one request" default:"0"`
	RequestTimeout time.Duration `arg:"--request-timeout,env:XAPIBENCH_REQUEST_TIMEOUT" help:"Timeout of a single backend request. Valid time units are ns, us (or µs), ms, s, m, h" default:"1m"`

	MetricsAddr   string `arg:"--metrics-addr,env:XAPIBENCH_METRICS_ADDR" help:"Serve Prometheus metrics on this address, e.g. :9090"`
	LogLevel      string `arg:"--log-level,env:XAPIBENCH_LOG_LEVEL" help:"Log level (debug, info, warn, error)" default:"info"`
	NoProgressBar bool   `arg:"--no-progress-bar,env:XAPIBENCH_NO_PROGRESS_BAR" help:"Do not draw the progress bar" default:"false"`

	Kind  backend.Kind `arg:"-"`
	Level slog.Level   `arg:"-"`
}

func (Config) Version() string {
	return fmt.Sprintf("%s\n", version.BenchVersion())
}

func (Config) Description() string {
	return "Comparative load testing harness for learning record stores."
}

// String describes the configuration with the password masked.
func (c Config) String() string {
	masked := c
	if masked.Password != "" {
		masked.Password = "*****"
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

// LogKV returns the fields worth logging at startup. It never contains the
// password.
func (c Config) LogKV() xlog.KV {
	return xlog.KV{
		"backend":             c.Kind.Value,
		"numBatches":          c.NumBatches,
		"batchSize":           c.BatchSize,
		"dropTablesFirst":     c.DropTablesFirst,
		"distributionsOnly":   c.DistributionsOnly,
		"target":              c.Target(),
		"username":            c.Username,
		"database":            c.Database,
		"seed":                c.Seed,
		"pipeline":            c.Pipeline,
		"maxBatchesPerSecond": c.MaxBatchesPerSecond,
	}
}

// Target names the backend endpoint without credentials.
func (c Config) Target() string {
	if c.Kind == backend.SQLite {
		return redactURL(c.SQLiteDSN())
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// SQLiteDSN returns the DSN of the sqlite backend.
func (c Config) SQLiteDSN() string {
	if c.DSN == "" {
		return defaultSQLitePath
	}
	return c.DSN
}

// redactURL hides the credentials of URL DSNs, including an NSQLite
// authToken query parameter.
func redactURL(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return dsn
	}
	q := u.Query()
	if q.Has("authToken") {
		q.Set("authToken", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// Parse parses and validates the configuration from the command line
// arguments. args[0] is the program name. Help and version requests print
// and exit the program.
func Parse(args []string) (Config, error) {
	cfg := Config{}

	parser, err := arg.NewParser(
		arg.Config{Program: "xapibench"},
		&cfg,
	)
	if err != nil {
		return cfg, err
	}

	if err := parser.Parse(args[1:]); err != nil {
		switch {
		case errors.Is(err, arg.ErrHelp):
			parser.WriteHelp(os.Stdout)
			os.Exit(0)
		case errors.Is(err, arg.ErrVersion):
			fmt.Println(cfg.Version())
			os.Exit(0)
		}
		return cfg, fault.New(fault.InvalidConfiguration, op, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field and fills Kind and Level. It fails with
// InvalidConfiguration.
func (c *Config) Validate() error {
	kind, err := validateBackend(c.Backend)
	if err != nil {
		return err
	}
	c.Kind = kind

	level, err := xlog.ParseLevel(c.LogLevel)
	if err != nil {
		return fault.New(fault.InvalidConfiguration, op, err)
	}
	c.Level = level

	checks := []error{
		validatePositive("batch size", c.BatchSize),
		validatePositive("number of batches", c.NumBatches),
		validatePositive("progress interval", c.ProgressEvery),
		validatePositive("query interval", c.QueryEvery),
		validateNonNegative("LRS chunk size", c.LRSChunkSize),
		validateRate(c.MaxBatchesPerSecond),
		validateTimeout(c.RequestTimeout),
		validateMetricsAddr(c.MetricsAddr),
		validateDatabase(c.Database),
	}
	if c.Kind != backend.SQLite {
		checks = append(checks, validatePort(c.Port), validateHost(c.Host))
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fault.Errorf(fault.InvalidConfiguration, op, format, args...)
}

// validateBackend validates if name is a known backend kind.
func validateBackend(name string) (backend.Kind, error) {
	if strings.TrimSpace(name) == "" {
		return backend.Kind{}, invalid(
			"missing backend, valid values are: %s", strings.Join(backend.Kinds.Values(), ", "),
		)
	}
	return backend.ParseKind(name)
}

func validatePositive(name string, v int) error {
	if v <= 0 {
		return invalid("invalid %s %d, must be greater than zero", name, v)
	}
	return nil
}

func validateNonNegative(name string, v int) error {
	if v < 0 {
		return invalid("invalid %s %d, must not be negative", name, v)
	}
	return nil
}

// validatePort validates if port is a valid port number.
func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return invalid("invalid port %d, valid values are 1-65535", port)
	}
	return nil
}

func validateHost(host string) error {
	if strings.TrimSpace(host) == "" {
		return invalid("missing host")
	}
	return nil
}

func validateRate(rate float64) error {
	if rate < 0 {
		return invalid("invalid max batches per second %g, must not be negative", rate)
	}
	return nil
}

// validateTimeout validates if timeout is greater than zero.
func validateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return invalid("invalid request timeout, must be greater than zero")
	}
	return nil
}

func validateMetricsAddr(addr string) error {
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return invalid("invalid metrics address %q: %v", addr, err)
	}
	return nil
}

// validateDatabase only allows names that can be used unquoted in every
// backend.
func validateDatabase(name string) error {
	if name == "" {
		return invalid("missing database")
	}
	for i, r := range name {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		digit := r >= '0' && r <= '9'
		if !letter && !(digit && i > 0) {
			return invalid("invalid database %q, use letters, digits and underscores", name)
		}
	}
	return nil
}
