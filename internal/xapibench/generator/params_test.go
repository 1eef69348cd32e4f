package generator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{name: "defaults", mutate: func(p *Params) {}},
		{name: "zero batch size", mutate: func(p *Params) { p.BatchSize = 0 }, wantErr: true},
		{name: "negative batch size", mutate: func(p *Params) { p.BatchSize = -5 }, wantErr: true},
		{name: "actor probability above one", mutate: func(p *Params) { p.NewActorProbability = 1.5 }, wantErr: true},
		{name: "course probability below zero", mutate: func(p *Params) { p.NewCourseProbability = -0.1 }, wantErr: true},
		{name: "negative skew", mutate: func(p *Params) { p.CourseSkew = -1 }, wantErr: true},
		{name: "max below min courses", mutate: func(p *Params) { p.MaxCourses = 5 }, wantErr: true},
		{name: "no orgs", mutate: func(p *Params) { p.Orgs = 0 }, wantErr: true},
		{name: "threshold of one", mutate: func(p *Params) { p.PassThreshold = 1 }, wantErr: true},
		{name: "zero max score", mutate: func(p *Params) { p.MaxScore = 0 }, wantErr: true},
		{name: "zero topK", mutate: func(p *Params) { p.TopK = 0 }, wantErr: true},
		{name: "unknown verb", mutate: func(p *Params) { p.VerbWeights["voided"] = 1 }, wantErr: true},
		{name: "negative verb weight", mutate: func(p *Params) { p.VerbWeights["passed"] = -1 }, wantErr: true},
		{name: "all verb weights zero", mutate: func(p *Params) { p.VerbWeights = map[string]float64{"passed": 0} }, wantErr: true},
		{name: "single verb", mutate: func(p *Params) { p.VerbWeights = map[string]float64{"launched": 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, fault.Is(err, fault.InvalidConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := `
batchSize: 500
seed: 99
courseSkew: 0.8
startTime: 2024-01-01T00:00:00Z
meanInterval: 250ms
verbWeights:
  passed: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadParams(path)
	require.NoError(t, err)

	assert.Equal(t, 500, p.BatchSize)
	assert.Equal(t, uint64(99), p.Seed)
	assert.Equal(t, 0.8, p.CourseSkew)
	assert.Equal(t, 250*time.Millisecond, p.MeanInterval)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), p.StartTime.UTC())
	assert.Equal(t, map[string]float64{"passed": 30}, p.VerbWeights)
	assert.Equal(t, DefaultParams().ActorSkew, p.ActorSkew, "unset fields keep defaults")
}

func TestLoadParamsVerbWeights(t *testing.T) {
	dir := t.TempDir()

	t.Run("table replaces defaults", func(t *testing.T) {
		path := filepath.Join(dir, "outcomes.yaml")
		content := "batchSize: 10000\nseed: 5\nverbWeights:\n  passed: 1\n  failed: 1\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		p, err := LoadParams(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"passed": 1, "failed": 1}, p.VerbWeights)

		g, err := New(p)
		require.NoError(t, err)
		seen := map[Verb]int{}
		for _, ev := range g.NextBatch().Events {
			seen[ev.Verb]++
		}
		assert.Len(t, seen, 2)
		assert.Positive(t, seen[Passed])
		assert.Positive(t, seen[Failed])
	})

	t.Run("no table keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "seed.yaml")
		require.NoError(t, os.WriteFile(path, []byte("seed: 5\n"), 0o644))

		p, err := LoadParams(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultVerbWeights(), p.VerbWeights)
	})
}

func TestLoadParamsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("batchSize: -1\n"), 0o644))
	_, err := LoadParams(bad)
	assert.True(t, fault.Is(err, fault.InvalidConfiguration))

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("batchSize: [\n"), 0o644))
	_, err = LoadParams(broken)
	assert.True(t, fault.Is(err, fault.InvalidConfiguration))

	_, err = LoadParams(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
