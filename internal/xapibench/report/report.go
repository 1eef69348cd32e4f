// Package report renders a finished run for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nsqlite/xapibench/internal/util/numutil"
	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/nsqlite/xapibench/internal/xapibench/metrics"
)

const timeLayout = "2006-01-02 15:04:05.000"

// Write prints every section of s.
func Write(w io.Writer, s metrics.Summary) {
	WriteRun(w, s)
	WriteCheckpoints(w, s.Checkpoints)
	for i, d := range s.Distributions {
		WriteDistribution(w, fmt.Sprintf("Distribution pass %d", i+1), d)
	}
}

// WriteRun prints the phase durations, ingestion totals and batch latency.
func WriteRun(w io.Writer, s metrics.Summary) {
	title(w, fmt.Sprintf("%s run (seed %d, batch size %s)",
		s.Backend, s.Seed, numutil.WithCommas(s.BatchSize)))

	tw := NewTableWriter()
	tw.AppendHeader(table.Row{"Phase", "Duration"})
	for _, p := range s.Phases {
		tw.AppendRow(table.Row{p.Phase.Value, formatDuration(p.Duration)})
	}
	fmt.Fprintln(w, tw.Render())

	if s.Batches == 0 {
		return
	}

	tw = NewTableWriter()
	tw.AppendHeader(table.Row{"Batches", "Inserted", "Backend rows", "Throughput", "DB time"})
	tw.AppendRow(table.Row{
		numutil.WithCommas(s.Batches),
		numutil.WithCommas(s.RowsInserted),
		numutil.WithCommas(s.FinalCounts.Statements),
		numutil.Rate(s.Throughput),
		formatTime(s.FinalDBTime),
	})
	fmt.Fprintln(w, tw.Render())

	l := s.BatchLatency
	tw = NewTableWriter()
	tw.AppendHeader(table.Row{"Batch latency", "Min", "Avg", "P50", "P90", "P99", "Max"})
	tw.AppendRow(table.Row{
		numutil.WithCommas(l.Count),
		formatDuration(l.Min), formatDuration(l.Avg), formatDuration(l.P50),
		formatDuration(l.P90), formatDuration(l.P99), formatDuration(l.Max),
	})
	fmt.Fprintln(w, tw.Render())
}

// WriteCheckpoints prints one row per periodic query set, one column per
// query.
func WriteCheckpoints(w io.Writer, checkpoints []metrics.Checkpoint) {
	if len(checkpoints) == 0 {
		return
	}
	title(w, "Queries")

	names := []string{}
	seen := map[string]bool{}
	for _, c := range checkpoints {
		for _, q := range c.Queries.Results {
			if !seen[q.Name] {
				seen[q.Name] = true
				names = append(names, q.Name)
			}
		}
	}

	header := table.Row{"Batch", "Rows", "DB time"}
	for _, n := range names {
		header = append(header, n)
	}
	header = append(header, "Total")

	tw := NewTableWriter()
	tw.AppendHeader(header)
	for _, c := range checkpoints {
		byName := map[string]backend.QueryResult{}
		for _, q := range c.Queries.Results {
			byName[q.Name] = q
		}

		row := table.Row{c.Batch, numutil.WithCommas(c.Counts.Statements), formatTime(c.DBTime)}
		for _, n := range names {
			q, ok := byName[n]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%s (%s)", formatDuration(q.Duration), numutil.WithCommas(q.Value)))
		}
		row = append(row, formatDuration(c.Queries.Total))
		tw.AppendRow(row)
	}
	fmt.Fprintln(w, tw.Render())
}

// WriteCheckpoint prints the query set of one checkpoint as soon as it
// ran, one row per query.
func WriteCheckpoint(w io.Writer, c metrics.Checkpoint) {
	title(w, fmt.Sprintf("Queries at batch %d (%s rows, db time %s)",
		c.Batch, numutil.WithCommas(c.Counts.Statements), formatTime(c.DBTime)))

	tw := NewTableWriter()
	tw.AppendHeader(table.Row{"Query", "Duration", "Value"})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	for _, q := range c.Queries.Results {
		tw.AppendRow(table.Row{q.Name, formatDuration(q.Duration), numutil.WithCommas(q.Value)})
	}
	tw.AppendFooter(table.Row{"Total", formatDuration(c.Queries.Total), ""})
	fmt.Fprintln(w, tw.Render())
}

// WriteProgress prints a one line progress report.
func WriteProgress(w io.Writer, p metrics.Progress, batches int) {
	Status(w, "batch %s of %s, %s elapsed, db time %s",
		numutil.WithCommas(p.Batch), numutil.WithCommas(batches),
		formatDuration(p.Elapsed), formatTime(p.DBTime))
}

// WriteDistribution prints the distribution report d under heading.
func WriteDistribution(w io.Writer, heading string, d backend.DistributionReport) {
	title(w, heading)

	tw := NewTableWriter()
	tw.AppendHeader(table.Row{"Query", "Duration", "Rows"})
	for _, q := range d.Timings {
		tw.AppendRow(table.Row{q.Name, formatDuration(q.Duration), numutil.WithCommas(q.Value)})
	}
	tw.AppendFooter(table.Row{"Total", formatDuration(d.Total), ""})
	fmt.Fprintln(w, tw.Render())

	writeCounts(w, "Verb", d.Verbs)
	writeCounts(w, "Org", d.Orgs)
	writeCounts(w, fmt.Sprintf("Course (%s distinct)", numutil.WithCommas(d.DistinctCourses)), d.TopCourses)

	if len(d.ActorActivity) > 0 {
		tw = NewTableWriter()
		tw.AppendHeader(table.Row{"Statements per actor", "Actors"})
		tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
		for _, b := range d.ActorActivity {
			tw.AppendRow(table.Row{
				fmt.Sprintf("%s-%s", numutil.WithCommas(b.Min), numutil.WithCommas(b.Max)),
				numutil.WithCommas(b.Actors),
			})
		}
		fmt.Fprintln(w, tw.Render())
	}
}

func writeCounts(w io.Writer, heading string, counts []backend.Count) {
	if len(counts) == 0 {
		return
	}

	var total int64
	for _, c := range counts {
		total += c.Count
	}

	tw := NewTableWriter()
	tw.AppendHeader(table.Row{heading, "Statements", "Share"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	for _, c := range counts {
		share := 0.0
		if total > 0 {
			share = float64(c.Count) * 100 / float64(total)
		}
		tw.AppendRow(table.Row{c.Key, numutil.WithCommas(c.Count), fmt.Sprintf("%.1f%%", share)})
	}
	fmt.Fprintln(w, tw.Render())
}

// ErrorLine formats a fatal error as "<Condition>: <message>". Errors
// without a condition are reported as "Error: <message>".
func ErrorLine(err error) string {
	msg := err.Error()
	c, ok := fault.ConditionOf(err)
	if !ok {
		return "Error: " + msg
	}

	if strings.HasPrefix(msg, c.Value+":") {
		return msg
	}
	return c.Value + ": " + msg
}

// WriteError prints err in red.
func WriteError(w io.Writer, err error) {
	errorColor().Fprintln(w, ErrorLine(err))
}

// Status prints a dimmed informational line.
func Status(w io.Writer, format string, args ...any) {
	DimmedColor().Fprintf(w, format+"\n", args...)
}

func title(w io.Writer, s string) {
	fmt.Fprintln(w)
	titleColor().Fprintln(w, s)
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}
