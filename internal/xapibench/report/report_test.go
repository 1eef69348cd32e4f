package report

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/nsqlite/xapibench/internal/xapibench/metrics"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.NoColor = true
}

func TestErrorLine(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "fault",
			err:  fault.Errorf(fault.SchemaExists, "create_tables", "mongo schema already exists"),
			want: "SchemaExists: create_tables: mongo schema already exists",
		},
		{
			name: "wrapped fault",
			err:  fmt.Errorf("run failed: %w", fault.Errorf(fault.NotReady, "batch_insert", "no tables")),
			want: "NotReady: run failed: NotReady: batch_insert: no tables",
		},
		{
			name: "plain",
			err:  errors.New("connection refused"),
			want: "Error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorLine(tt.err))
		})
	}
}

func TestWrite(t *testing.T) {
	s := metrics.Summary{
		Backend:      "clickhouse",
		Seed:         7,
		BatchSize:    10_000,
		Batches:      3,
		RowsInserted: 30_000,
		Throughput:   15_000,
		BatchLatency: metrics.DurationStats{Count: 3, Min: time.Second, Max: time.Second},
		Phases: []metrics.PhaseDuration{
			{Phase: metrics.PhaseInsert, Duration: 2 * time.Second},
		},
		Checkpoints: []metrics.Checkpoint{{
			Batch:  0,
			Counts: backend.RowCounts{Statements: 10_000},
			Queries: backend.QueryReport{Results: []backend.QueryResult{
				{Name: "count_all", Duration: 3 * time.Millisecond, Value: 10_000},
			}},
		}},
		Distributions: []backend.DistributionReport{{
			Verbs:           []backend.Count{{Key: "attempted", Count: 3}, {Key: "passed", Count: 1}},
			DistinctCourses: 1234,
			TopCourses:      []backend.Count{{Key: "course-a", Count: 4}},
			ActorActivity:   []backend.HistogramBucket{{Min: 2, Max: 3, Actors: 2}},
		}},
		FinalCounts: backend.RowCounts{Statements: 30_000},
	}

	var buf bytes.Buffer
	Write(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "clickhouse run (seed 7, batch size 10,000)")
	assert.Contains(t, out, "15,000.0/s")
	assert.Contains(t, out, "30,000")
	assert.Contains(t, out, "count_all")
	assert.Contains(t, out, "3ms (10,000)")
	assert.Contains(t, out, "Distribution pass 1")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "Course (1,234 distinct)")
	assert.Contains(t, out, "2-3")
}

func TestWriteDistributionsOnly(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, metrics.Summary{Backend: "ralph"})
	assert.Contains(t, buf.String(), "ralph run")
	assert.NotContains(t, buf.String(), "Batch latency")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "1.23ms", formatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.5s", formatDuration(2500*time.Millisecond))
	assert.Equal(t, "-", formatTime(time.Time{}))
}

func TestWriteCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	WriteCheckpoint(&buf, metrics.Checkpoint{
		Batch:  20,
		DBTime: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		Counts: backend.RowCounts{Statements: 210_000},
		Queries: backend.QueryReport{
			Results: []backend.QueryResult{
				{Name: "count_all", Duration: 4 * time.Millisecond, Value: 210_000},
				{Name: "latest_for_course", Duration: 900 * time.Microsecond, Value: 10},
			},
			Total: 5 * time.Millisecond,
		},
	})
	out := buf.String()

	assert.Contains(t, out, "Queries at batch 20 (210,000 rows, db time 2024-03-01 08:00:00.000)")
	assert.Contains(t, out, "count_all")
	assert.Contains(t, out, "900µs")
	assert.Contains(t, out, "5ms")
}

func TestWriteProgress(t *testing.T) {
	var buf bytes.Buffer
	WriteProgress(&buf, metrics.Progress{Batch: 1_000, Elapsed: 90 * time.Second}, 2_000)
	assert.Equal(t, "batch 1,000 of 2,000, 1m30s elapsed, db time -\n", buf.String())
}
