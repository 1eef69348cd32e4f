package generator

import (
	"strings"

	"github.com/orsinium-labs/enum"
)

const verbIRIPrefix = "http://adlnet.gov/expapi/verbs/"

// Verb is one of the fixed xAPI verbs the generator emits.
type Verb enum.Member[string]

var (
	Launched  = Verb{Value: "launched"}
	Attempted = Verb{Value: "attempted"}
	Completed = Verb{Value: "completed"}
	Passed    = Verb{Value: "passed"}
	Failed    = Verb{Value: "failed"}

	Verbs = enum.New(Launched, Attempted, Completed, Passed, Failed)
)

// IRI returns the ADL verb identifier.
func (v Verb) IRI() string {
	return verbIRIPrefix + v.Value
}

// Display returns the en-US display name.
func (v Verb) Display() string {
	return v.Value
}

// Scored reports whether statements with this verb carry a score.
func (v Verb) Scored() bool {
	return v == Passed || v == Failed
}

func (v Verb) String() string {
	return v.Value
}

// ParseVerb accepts either the short name ("passed") or the full IRI.
func ParseVerb(s string) (Verb, bool) {
	name := strings.TrimPrefix(s, verbIRIPrefix)
	v := Verbs.Parse(name)
	if v == nil {
		return Verb{}, false
	}
	return *v, true
}

// DefaultVerbWeights is the relative frequency of each verb. Attempts and
// launches dominate, outcomes are rarer.
func DefaultVerbWeights() map[string]float64 {
	return map[string]float64{
		Launched.Value:  25,
		Attempted.Value: 40,
		Completed.Value: 15,
		Passed.Value:    12,
		Failed.Value:    8,
	}
}
