// Package fault defines the error conditions surfaced by the benchmark.
//
// Every error that reaches the operator carries one Condition so the
// terminal message can name what kind of failure ended the run.
package fault

import (
	"errors"
	"fmt"

	"github.com/orsinium-labs/enum"
)

// Condition classifies a failure.
type Condition enum.Member[string]

var (
	// InvalidConfiguration is a bad run parameter, raised before any side
	// effect.
	InvalidConfiguration = Condition{Value: "InvalidConfiguration"}
	// SchemaExists is raised when tables are created over an existing schema.
	SchemaExists = Condition{Value: "SchemaExists"}
	// NotReady is raised when an operation needs tables that do not exist.
	NotReady = Condition{Value: "NotReady"}
	// BatchInsertFailed means a whole batch was rejected by the backend.
	BatchInsertFailed = Condition{Value: "BatchInsertFailed"}
	// QueryFailed means a reporting or distribution query did not complete.
	QueryFailed = Condition{Value: "QueryFailed"}

	Conditions = enum.New(
		InvalidConfiguration,
		SchemaExists,
		NotReady,
		BatchInsertFailed,
		QueryFailed,
	)
)

// String returns the condition name.
func (c Condition) String() string {
	return c.Value
}

// Err returns a bare error for the condition, meant for errors.Is.
func (c Condition) Err() error {
	return &Error{Condition: c}
}

// Error is an error tagged with a Condition and the operation that raised
// it.
type Error struct {
	Condition Condition
	Op        string
	Err       error
}

// New wraps err with a condition. op names the failing operation, such as
// "batch_insert".
func New(c Condition, op string, err error) *Error {
	return &Error{Condition: c, Op: op, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(c Condition, op string, format string, args ...any) *Error {
	return New(c, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := e.Condition.Value
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same condition, so callers can use
// errors.Is(err, fault.NotReady.Err()).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Condition == e.Condition && (t.Op == "" || t.Op == e.Op)
}

// ConditionOf returns the outermost condition found in err's chain.
func ConditionOf(err error) (Condition, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Condition, true
	}
	return Condition{}, false
}

// Is reports whether err carries condition c.
func Is(err error, c Condition) bool {
	return errors.Is(err, c.Err())
}
