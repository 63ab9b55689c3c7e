package vm

import (
	"errors"
	"fmt"

	"jdeobf/internal/value"
)

// State is the lifecycle state of one method execution.
type State int

const (
	Ready State = iota
	Running
	Returned
	Threw
	Aborted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Returned:
		return "returned"
	case Threw:
		return "threw"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrUnsupported is returned by provider operations outside their role and
// by instructions the interpreter does not model.
var ErrUnsupported = errors.New("unsupported operation")

// NoProviderError reports that no registered provider accepted an operation.
type NoProviderError struct {
	Op    string
	Owner string
	Name  string
	Desc  string
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no provider for %s %s.%s%s", e.Op, e.Owner, e.Name, e.Desc)
}

// ThrownError carries an exception raised by the interpreted program.
type ThrownError struct {
	Thrown value.Value
}

func (e *ThrownError) Error() string {
	msg := ""
	if o, ok := e.Thrown.(*value.Object); ok {
		if t, ok := o.Native().(*Throwable); ok && t.Message != "" {
			msg = ": " + t.Message
		}
	}
	return fmt.Sprintf("thrown %s%s", e.Thrown.TypeName(), msg)
}

// AbortError stops execution early. Providers return it once they have
// captured what they need; it is not a failure of the program.
type AbortError struct {
	Reason string
	// Result is an optional value captured before aborting.
	Result value.Value
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return "execution aborted"
	}
	return "execution aborted: " + e.Reason
}

// ExecutionError is the error returned by Execute for every outcome other
// than a normal return.
type ExecutionError struct {
	Class  string
	Method string
	Desc   string
	State  State
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s.%s%s %s: %v", e.Class, e.Method, e.Desc, e.State, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// StateOf maps the error returned by Execute to the terminal state.
func StateOf(err error) State {
	if err == nil {
		return Returned
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.State
	}
	var ae *AbortError
	if errors.As(err, &ae) {
		return Aborted
	}
	return Threw
}

// Thrown returns the exception value carried by err, if any.
func Thrown(err error) (value.Value, bool) {
	var te *ThrownError
	if errors.As(err, &te) {
		return te.Thrown, true
	}
	return nil, false
}

// InstructionError reports an interpreter failure at a specific instruction.
type InstructionError struct {
	Index int
	Op    string
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}
