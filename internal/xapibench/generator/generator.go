// Package generator produces synthetic, referentially consistent xAPI
// activity for the benchmark.
//
// A Generator owns a registry of actors and courses that only grows during
// a run. Every event it emits references an actor and a course already in
// that registry, so counts and joins computed by the backends line up.
//
// A Generator is not safe for concurrent use; one goroutine must own it.
package generator

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/nsqlite/xapibench/internal/xapibench/fault"
)

var (
	firstNames = []string{
		"Ada", "Alan", "Barbara", "Claude", "Edsger", "Frances", "Grace",
		"Ivan", "John", "Ken", "Leslie", "Margaret", "Niklaus", "Radia",
		"Rob", "Shafi", "Sophie", "Tim", "Whitfield", "Yukihiro",
	}
	lastNames = []string{
		"Allen", "Backus", "Cerf", "Dijkstra", "Engelbart", "Floyd",
		"Goldwasser", "Hamilton", "Hopper", "Kay", "Knuth", "Lamport",
		"Liskov", "Perlman", "Pike", "Ritchie", "Sutherland", "Thompson",
		"Wilson", "Wirth",
	}
	subjects = []string{
		"Algebra", "Biology", "Chemistry", "Data Science", "Economics",
		"French", "Geometry", "History", "Linear Algebra", "Machine Learning",
		"Networks", "Philosophy", "Physics", "Statistics", "Writing",
	}
)

// Generator produces batches of events.
type Generator struct {
	params    Params
	batchSize int
	seed      uint64

	src *rand.ChaCha8
	rng *rand.Rand

	verbs     []Verb
	verbTable cumulativeTable

	reg registry

	clock          time.Time
	batches        int
	totalEvents    int
	firstTimestamp time.Time
	lastTimestamp  time.Time
}

// New validates params and returns a Generator ready to produce batches.
func New(params Params) (*Generator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	weights, err := verbWeightList(params.VerbWeights)
	if err != nil {
		return nil, fault.New(fault.InvalidConfiguration, "generator_params", err)
	}

	seed := params.Seed
	for seed == 0 {
		seed = rand.Uint64()
	}
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	src := rand.NewChaCha8(key)

	start := params.StartTime
	if start.IsZero() {
		start = time.Now().Add(-90 * 24 * time.Hour)
	}

	g := &Generator{
		params: params,
		seed:   seed,
		src:    src,
		rng:    rand.New(src),
		verbs:  Verbs.Members(),
		clock:  start.UTC(),
	}
	for _, w := range weights {
		g.verbTable.add(w)
	}
	if err := g.Configure(params.BatchSize); err != nil {
		return nil, err
	}

	return g, nil
}

// Configure fixes the number of events produced per NextBatch call.
func (g *Generator) Configure(batchSize int) error {
	if batchSize <= 0 {
		return fault.Errorf(
			fault.InvalidConfiguration, "configure",
			"batch size must be a positive integer, got %d", batchSize,
		)
	}
	g.batchSize = batchSize
	return nil
}

// BatchSize returns the configured batch size.
func (g *Generator) BatchSize() int {
	return g.batchSize
}

// Seed returns the seed of the random stream, useful to replay a run.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// NumActors returns the number of actors in the registry.
func (g *Generator) NumActors() int {
	return len(g.reg.actors)
}

// NumCourses returns the number of courses in the registry.
func (g *Generator) NumCourses() int {
	return len(g.reg.courses)
}

// Actor returns the actor at index i.
func (g *Generator) Actor(i int) (Actor, bool) {
	if i < 0 || i >= len(g.reg.actors) {
		return Actor{}, false
	}
	return g.reg.actors[i], true
}

// Course returns the course at index i.
func (g *Generator) Course(i int) (Course, bool) {
	if i < 0 || i >= len(g.reg.courses) {
		return Course{}, false
	}
	return g.reg.courses[i], true
}

// NextBatch produces exactly BatchSize events.
func (g *Generator) NextBatch() Batch {
	events := make([]Event, g.batchSize)
	for i := range events {
		events[i] = g.nextEvent()
	}

	b := Batch{Sequence: g.batches, Events: events}
	g.batches++
	g.totalEvents += len(events)
	return b
}

// Summary describes the registry without exposing it.
//
// Courses and actors are weighted by creation rank with a non-increasing
// Zipf curve, so the first entries are the most popular ones.
func (g *Generator) Summary() Summary {
	k := g.params.TopK

	courses := make([]CourseRef, 0, min(k, len(g.reg.courses)))
	for _, c := range g.reg.courses[:min(k, len(g.reg.courses))] {
		courses = append(courses, c.Ref())
	}

	actors := make([]ActorRef, 0, min(k, len(g.reg.actors)))
	for _, a := range g.reg.actors[:min(k, len(g.reg.actors))] {
		actors = append(actors, a.Ref())
	}

	return Summary{
		Batches:        g.batches,
		TotalEvents:    g.totalEvents,
		NumActors:      len(g.reg.actors),
		NumCourses:     len(g.reg.courses),
		TopCourses:     courses,
		SampleActors:   actors,
		FirstTimestamp: g.firstTimestamp,
		LastTimestamp:  g.lastTimestamp,
	}
}

func (g *Generator) nextEvent() Event {
	actor := g.pickActor()
	course := g.pickCourse()
	verb := g.verbs[g.verbTable.draw(g.rng.Float64())]
	ts := g.tick()

	return Event{
		ID:        g.newUUID(),
		Actor:     actor,
		Verb:      verb,
		Course:    course,
		Timestamp: ts,
		Result:    g.result(verb),
	}
}

func (g *Generator) pickActor() Actor {
	if len(g.reg.actors) == 0 || g.rng.Float64() < g.params.NewActorProbability {
		return g.reg.addActor(Actor{
			ID: g.newUUID(),
			Name: fmt.Sprintf(
				"%s %s",
				firstNames[g.rng.IntN(len(firstNames))],
				lastNames[g.rng.IntN(len(lastNames))],
			),
		}, g.params.ActorSkew)
	}
	return g.reg.drawActor(g.rng.Float64())
}

func (g *Generator) pickCourse() Course {
	n := len(g.reg.courses)
	capped := g.params.MaxCourses > 0 && n >= g.params.MaxCourses
	if n < g.params.MinCourses || (!capped && g.rng.Float64() < g.params.NewCourseProbability) {
		org := fmt.Sprintf("Org%d", g.rng.IntN(g.params.Orgs)+1)
		code := fmt.Sprintf("C%05d", n+1)
		return g.reg.addCourse(Course{
			ID:    fmt.Sprintf("%scourse-v1:%s+%s+%d", courseIRIPrefix, org, code, g.clock.Year()),
			Org:   org,
			Title: fmt.Sprintf("%s %s", subjects[g.rng.IntN(len(subjects))], code),
		}, g.params.CourseSkew)
	}
	return g.reg.drawCourse(g.rng.Float64())
}

// tick advances the clock by an exponential step. Timestamps are truncated
// to milliseconds so every backend stores them without loss.
func (g *Generator) tick() time.Time {
	step := time.Duration(g.rng.ExpFloat64() * float64(g.params.MeanInterval))
	g.clock = g.clock.Add(step)

	ts := g.clock.Truncate(time.Millisecond)
	if g.firstTimestamp.IsZero() {
		g.firstTimestamp = ts
	}
	g.lastTimestamp = ts
	return ts
}

func (g *Generator) result(verb Verb) *Result {
	if !verb.Scored() {
		if verb == Completed {
			return &Result{Completion: true}
		}
		return nil
	}

	threshold := g.params.PassThreshold
	success := verb == Passed
	scaled := g.rng.Float64() * threshold
	if success {
		scaled = threshold + g.rng.Float64()*(1-threshold)
	}
	return &Result{
		Score: &Score{
			Scaled: scaled,
			Raw:    math.Round(scaled*g.params.MaxScore*100) / 100,
			Min:    0,
			Max:    g.params.MaxScore,
		},
		Success:    &success,
		Completion: true,
	}
}

// newUUID draws a version 4 UUID from the seeded stream. ChaCha8 never
// fails to read, an error here is a bug.
func (g *Generator) newUUID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		panic(fmt.Sprintf("generator: reading random stream: %v", err))
	}
	return id
}
