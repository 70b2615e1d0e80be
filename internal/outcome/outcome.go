package outcome

import (
	"errors"
	"fmt"
)

// Kind classifies the result of a wallet or contract operation.
type Kind string

const (
	Success      Kind = "success"
	Precondition Kind = "precondition_error"
	Remote       Kind = "remote_error"
)

func (k Kind) String() string {
	return string(k)
}

// PreconditionError is a local failure detected before any remote call.
// Message is what the user should be told.
type PreconditionError struct {
	Op      string
	Message string
}

func (e *PreconditionError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Is matches any PreconditionError with the same message, so sentinels
// survive being re-tagged with a different Op.
func (e *PreconditionError) Is(target error) bool {
	t, ok := target.(*PreconditionError)
	if !ok {
		return false
	}
	return t.Message == e.Message
}

// RemoteError wraps a failure reported by the wallet provider or the chain.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Fail tags a precondition failure with op. The result still matches the
// sentinel it was built from. Other errors are turned into preconditions
// using their text as the message.
func Fail(op string, err error) error {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return &PreconditionError{Op: op, Message: pe.Message}
	}
	return &PreconditionError{Op: op, Message: err.Error()}
}

// Remotef wraps err as a RemoteError unless it is nil or already classified.
func Remotef(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PreconditionError
	var re *RemoteError
	if errors.As(err, &pe) || errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// Of reports the kind of err. Unclassified errors count as remote.
func Of(err error) Kind {
	if err == nil {
		return Success
	}
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return Precondition
	}
	return Remote
}

// Message returns the user-facing notification for a precondition error.
func Message(err error) (string, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Message, true
	}
	return "", false
}
