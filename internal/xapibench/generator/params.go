package generator

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"gopkg.in/yaml.v3"
)

// Params controls the shape of the generated data.
//
// Params can be loaded from a YAML file with LoadParams; fields missing from
// the file keep their DefaultParams value. A verbWeights table in the file
// replaces the default table as a whole.
type Params struct {
	BatchSize int `yaml:"batchSize"`
	// Seed for the random stream. Zero picks a fresh seed.
	Seed uint64 `yaml:"seed"`

	// NewActorProbability is the chance an event introduces a new learner
	// instead of reusing a known one.
	NewActorProbability float64 `yaml:"newActorProbability"`
	// ActorSkew is the Zipf exponent applied to actors by creation rank.
	ActorSkew float64 `yaml:"actorSkew"`

	NewCourseProbability float64 `yaml:"newCourseProbability"`
	CourseSkew           float64 `yaml:"courseSkew"`
	// MinCourses are created before any course is reused.
	MinCourses int `yaml:"minCourses"`
	// MaxCourses caps course creation, zero means unbounded.
	MaxCourses int `yaml:"maxCourses"`
	Orgs       int `yaml:"orgs"`

	VerbWeights map[string]float64 `yaml:"verbWeights"`

	// PassThreshold splits scaled scores between passed and failed.
	PassThreshold float64 `yaml:"passThreshold"`
	MaxScore      float64 `yaml:"maxScore"`

	// StartTime of the first event. Zero means 90 days before the
	// generator is created.
	StartTime    time.Time     `yaml:"startTime"`
	MeanInterval time.Duration `yaml:"meanInterval"`

	// TopK bounds the courses and actors exposed in a Summary.
	TopK int `yaml:"topK"`
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		BatchSize:            10_000,
		NewActorProbability:  0.05,
		ActorSkew:            1.1,
		NewCourseProbability: 0.002,
		CourseSkew:           1.2,
		MinCourses:           10,
		Orgs:                 20,
		VerbWeights:          DefaultVerbWeights(),
		PassThreshold:        0.6,
		MaxScore:             100,
		MeanInterval:         time.Second,
		TopK:                 10,
	}
}

// LoadParams reads YAML parameters from path on top of DefaultParams.
// Verbs left out of a verbWeights table get zero weight.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()

	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("error reading generator params: %w", err)
	}

	// yaml merges into a non-nil map.
	p.VerbWeights = nil
	if err := yaml.Unmarshal(b, &p); err != nil {
		return DefaultParams(), fault.New(fault.InvalidConfiguration, "load_params", err)
	}
	if p.VerbWeights == nil {
		p.VerbWeights = DefaultVerbWeights()
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks every parameter and returns an InvalidConfiguration error
// for the first bad one.
func (p Params) Validate() error {
	invalid := func(format string, args ...any) error {
		return fault.Errorf(fault.InvalidConfiguration, "generator_params", format, args...)
	}

	if p.BatchSize <= 0 {
		return invalid("batch size must be positive, got %d", p.BatchSize)
	}
	if err := validateProbability("newActorProbability", p.NewActorProbability); err != nil {
		return invalid("%v", err)
	}
	if err := validateProbability("newCourseProbability", p.NewCourseProbability); err != nil {
		return invalid("%v", err)
	}
	if p.ActorSkew < 0 || p.CourseSkew < 0 {
		return invalid("skew exponents must not be negative")
	}
	if p.MinCourses < 1 {
		return invalid("minCourses must be at least 1, got %d", p.MinCourses)
	}
	if p.MaxCourses != 0 && p.MaxCourses < p.MinCourses {
		return invalid("maxCourses (%d) is below minCourses (%d)", p.MaxCourses, p.MinCourses)
	}
	if p.Orgs < 1 {
		return invalid("orgs must be at least 1, got %d", p.Orgs)
	}
	if p.PassThreshold <= 0 || p.PassThreshold >= 1 {
		return invalid("passThreshold must be within (0, 1), got %v", p.PassThreshold)
	}
	if p.MaxScore <= 0 {
		return invalid("maxScore must be positive, got %v", p.MaxScore)
	}
	if p.MeanInterval < 0 {
		return invalid("meanInterval must not be negative")
	}
	if p.TopK < 1 {
		return invalid("topK must be at least 1, got %d", p.TopK)
	}
	if _, err := verbWeightList(p.VerbWeights); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func validateProbability(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
	}
	return nil
}

// verbWeightList orders weights like Verbs.Members(). Verbs missing from
// weights get zero weight.
func verbWeightList(weights map[string]float64) ([]float64, error) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if Verbs.Parse(name) == nil {
			return nil, fmt.Errorf("unknown verb %q in verbWeights", name)
		}
		if weights[name] < 0 {
			return nil, fmt.Errorf("weight for verb %q must not be negative", name)
		}
	}

	list := make([]float64, 0, Verbs.Len())
	total := 0.0
	for _, v := range Verbs.Members() {
		w := weights[v.Value]
		list = append(list, w)
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("at least one verb weight must be positive")
	}
	return list, nil
}
