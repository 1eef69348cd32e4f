package generator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// AccountHomePage is the homePage of every generated actor account.
	AccountHomePage = "https://xapibench.local"
	// OrgExtension is the context extension holding the course org.
	OrgExtension = "https://xapibench.local/extensions/org"

	courseIRIPrefix = "https://xapibench.local/course/"
	platform        = "xapibench"
)

// Statement is the xAPI JSON form of an Event.
type Statement struct {
	ID        string           `json:"id"`
	Actor     StatementActor   `json:"actor"`
	Verb      StatementVerb    `json:"verb"`
	Object    StatementObject  `json:"object"`
	Result    *StatementResult `json:"result,omitempty"`
	Context   StatementContext `json:"context"`
	Timestamp string           `json:"timestamp"`
}

type StatementActor struct {
	ObjectType string       `json:"objectType"`
	Name       string       `json:"name,omitempty"`
	Account    AgentAccount `json:"account"`
}

type AgentAccount struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

type StatementVerb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display,omitempty"`
}

type StatementObject struct {
	ObjectType string              `json:"objectType"`
	ID         string              `json:"id"`
	Definition *ActivityDefinition `json:"definition,omitempty"`
}

type ActivityDefinition struct {
	Name map[string]string `json:"name,omitempty"`
	Type string            `json:"type,omitempty"`
}

type StatementResult struct {
	Score      *StatementScore `json:"score,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Completion *bool           `json:"completion,omitempty"`
}

type StatementScore struct {
	Scaled float64 `json:"scaled"`
	Raw    float64 `json:"raw"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type StatementContext struct {
	Platform   string         `json:"platform,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Statement renders the event as an xAPI statement.
func (e Event) Statement() Statement {
	st := Statement{
		ID: e.ID.String(),
		Actor: StatementActor{
			ObjectType: "Agent",
			Name:       e.Actor.Name,
			Account: AgentAccount{
				HomePage: AccountHomePage,
				Name:     e.Actor.ID.String(),
			},
		},
		Verb: StatementVerb{
			ID:      e.Verb.IRI(),
			Display: map[string]string{"en-US": e.Verb.Display()},
		},
		Object: StatementObject{
			ObjectType: "Activity",
			ID:         e.Course.ID,
			Definition: &ActivityDefinition{
				Name: map[string]string{"en-US": e.Course.Title},
				Type: "http://adlnet.gov/expapi/activities/course",
			},
		},
		Context: StatementContext{
			Platform:   platform,
			Extensions: map[string]any{OrgExtension: e.Course.Org},
		},
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	if e.Result != nil {
		res := &StatementResult{Success: e.Result.Success}
		if e.Result.Completion {
			completion := true
			res.Completion = &completion
		}
		if s := e.Result.Score; s != nil {
			res.Score = &StatementScore{Scaled: s.Scaled, Raw: s.Raw, Min: s.Min, Max: s.Max}
		}
		st.Result = res
	}

	return st
}

// StatementJSON returns the JSON encoding of Statement.
func (e Event) StatementJSON() ([]byte, error) {
	return json.Marshal(e.Statement())
}

// ActorID returns the actor account name, which is the generator actor id.
func (s Statement) ActorID() string {
	return s.Actor.Account.Name
}

// VerbName returns the short verb name, or the raw IRI for foreign verbs.
func (s Statement) VerbName() string {
	if v, ok := ParseVerb(s.Verb.ID); ok {
		return v.Value
	}
	return s.Verb.ID
}

// CourseID returns the object id.
func (s Statement) CourseID() string {
	return s.Object.ID
}

// Org returns the org extension, empty when absent.
func (s Statement) Org() string {
	org, _ := s.Context.Extensions[OrgExtension].(string)
	return org
}

// Time parses the statement timestamp.
func (s Statement) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s.Timestamp)
}

// ParseStatement decodes an xAPI statement and checks it has an id.
func ParseStatement(b []byte) (Statement, error) {
	st := Statement{}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, err
	}
	if _, err := uuid.Parse(st.ID); err != nil {
		return st, err
	}
	return st, nil
}
