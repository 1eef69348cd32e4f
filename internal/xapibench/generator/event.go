package generator

import (
	"time"

	"github.com/google/uuid"
)

// Actor is a synthetic learner.
type Actor struct {
	Index int
	ID    uuid.UUID
	Name  string
}

// Ref returns the public reference to the actor.
func (a Actor) Ref() ActorRef {
	return ActorRef{ID: a.ID.String(), Name: a.Name}
}

// Course is a synthetic learning unit. Weight is its relative popularity.
type Course struct {
	Index  int
	ID     string
	Org    string
	Title  string
	Weight float64
}

// Ref returns the public reference to the course.
func (c Course) Ref() CourseRef {
	return CourseRef{ID: c.ID, Org: c.Org, Title: c.Title, Weight: c.Weight}
}

// Score is the xAPI score of a passed or failed attempt.
type Score struct {
	Scaled float64
	Raw    float64
	Min    float64
	Max    float64
}

// Result is the optional outcome attached to an event.
type Result struct {
	Score      *Score
	Success    *bool
	Completion bool
}

// Event is one learner performing a verb on a course at a point in time.
type Event struct {
	ID        uuid.UUID
	Actor     Actor
	Verb      Verb
	Course    Course
	Timestamp time.Time
	Result    *Result
}

// Batch is the ordered output of one NextBatch call. Batches are never
// mutated once returned.
type Batch struct {
	// Sequence is the zero-based position of the batch in the run.
	Sequence int
	Events   []Event
}

// Len returns the number of events in the batch.
func (b Batch) Len() int {
	return len(b.Events)
}

// ActorRef identifies an actor in a Summary.
type ActorRef struct {
	ID   string
	Name string
}

// CourseRef identifies a course in a Summary.
type CourseRef struct {
	ID     string
	Org    string
	Title  string
	Weight float64
}

// Summary is the reference state backends use to build queries. It is a
// copy and never shares memory with the generator.
type Summary struct {
	Batches     int
	TotalEvents int
	NumActors   int
	NumCourses  int
	// TopCourses holds the most popular courses, most popular first.
	TopCourses []CourseRef
	// SampleActors holds the most active actors, most active first.
	SampleActors   []ActorRef
	FirstTimestamp time.Time
	LastTimestamp  time.Time
}

// TopCourseIDs returns the ids of TopCourses in order.
func (s Summary) TopCourseIDs() []string {
	ids := make([]string, 0, len(s.TopCourses))
	for _, c := range s.TopCourses {
		ids = append(ids, c.ID)
	}
	return ids
}

// SampleActorIDs returns the ids of SampleActors in order.
func (s Summary) SampleActorIDs() []string {
	ids := make([]string, 0, len(s.SampleActors))
	for _, a := range s.SampleActors {
		ids = append(ids, a.ID)
	}
	return ids
}
