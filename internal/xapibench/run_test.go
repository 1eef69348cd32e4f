package xapibench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/nsqlite/xapibench/internal/log"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/config"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func noPrompt(string) (string, error) {
	return "", errors.New("unexpected password prompt")
}

func parseConfig(t *testing.T, args ...string) config.Config {
	t.Helper()
	cfg, err := config.Parse(append([]string{"xapibench", "--no-progress-bar"}, args...))
	require.NoError(t, err)
	return cfg
}

func TestRunAgainstSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "lrs", "xapi.db")
	var stdout, stderr bytes.Buffer

	cfg := parseConfig(t,
		"--backend", "sqlite", "--dsn", dsn,
		"--num-batches", "4", "--batch-size", "50", "--query-every", "2", "--seed", "5",
	)
	require.NoError(t, run(context.Background(), cfg, &stdout, &stderr, noPrompt))

	out := stdout.String()
	assert.Contains(t, out, "sqlite run (seed 5, batch size 50)")
	assert.Contains(t, out, "count_all")
	assert.Contains(t, out, "batch 0 of 4")
	assert.Contains(t, out, "Queries at batch 0 (50 rows")
	assert.Contains(t, out, "Queries at batch 2 (150 rows")
	assert.Contains(t, out, "Distribution pass 1")
	assert.Contains(t, stderr.String(), `"msg":"setup done"`)
	assert.NotContains(t, stderr.String(), `"level":"ERROR"`)

	t.Run("existing schema is refused", func(t *testing.T) {
		stdout.Reset()
		err := run(context.Background(), cfg, &stdout, &stderr, noPrompt)
		assert.True(t, fault.Is(err, fault.SchemaExists), err)
		assert.Contains(t, stdout.String(), "run aborted, partial results follow")
		assert.Contains(t, stdout.String(), "sqlite run")
	})

	t.Run("distributions only reads the existing data", func(t *testing.T) {
		stdout.Reset()
		cfg := parseConfig(t, "--backend", "sqlite", "--dsn", dsn, "--distributions-only")
		require.NoError(t, run(context.Background(), cfg, &stdout, &stderr, noPrompt))
		assert.Contains(t, stdout.String(), "Distribution pass 1")
		assert.NotContains(t, stdout.String(), "Batch latency")
	})

	t.Run("drop first starts over", func(t *testing.T) {
		stdout.Reset()
		cfg := parseConfig(t,
			"--backend", "sqlite", "--dsn", dsn, "--drop-tables-first",
			"--num-batches", "1", "--batch-size", "20", "--pipeline",
		)
		require.NoError(t, run(context.Background(), cfg, &stdout, &stderr, noPrompt))
		assert.Contains(t, stdout.String(), "sqlite run")
	})
}

func TestRunUsesGeneratorConfig(t *testing.T) {
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(paramsPath, []byte("seed: 77\nbatchSize: 5000\norgs: 3\n"), 0o600))

	cfg := parseConfig(t,
		"--backend", "sqlite", "--dsn", filepath.Join(dir, "xapi.db"),
		"--generator-config", paramsPath, "--batch-size", "10",
	)
	gen, err := newGenerator(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), gen.Seed())
	assert.Equal(t, 10, gen.BatchSize(), "the flag wins over the file")

	cfg.Seed = 9
	gen, err = newGenerator(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), gen.Seed())
}

func TestRunRejectsBadGeneratorConfig(t *testing.T) {
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(paramsPath, []byte("newActorProbability: 2\n"), 0o600))

	var stdout, stderr bytes.Buffer
	cfg := parseConfig(t, "--backend", "sqlite", "--dsn", filepath.Join(dir, "xapi.db"), "--generator-config", paramsPath)
	err := run(context.Background(), cfg, &stdout, &stderr, noPrompt)
	assert.True(t, fault.Is(err, fault.InvalidConfiguration), err)
	assert.Contains(t, stderr.String(), `"msg":"run failed"`)
}

func TestRunPromptsForPassword(t *testing.T) {
	cfg := parseConfig(t, "--backend", "ralph", "--host", "127.0.0.1", "--port", "1")

	prompted := false
	prompt := func(string) (string, error) {
		prompted = true
		return "", errors.New("aborted")
	}

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), cfg, &stdout, &stderr, prompt)
	assert.EqualError(t, err, "aborted")
	assert.True(t, prompted)
}

func TestNewDriverCoversEveryKind(t *testing.T) {
	for _, kind := range backend.Kinds.Members() {
		t.Run(kind.Value, func(t *testing.T) {
			cfg := parseConfig(t, "--backend", kind.Value, "--dsn", filepath.Join(t.TempDir(), "x.db"))
			driver, err := newDriver(cfg, log.NewDiscardLogger())
			require.NoError(t, err)
			assert.NotNil(t, driver)
			assert.NoError(t, driver.Close())
		})
	}
}
