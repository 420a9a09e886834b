package conversation

import (
	"errors"
	"fmt"
)

// Kind categorizes pipeline failures so callers can map them to responses.
type Kind string

const (
	KindInitializationFailure Kind = "initialization_failure"
	KindExtractionFailure     Kind = "extraction_failure"
	KindRetrievalFailure      Kind = "retrieval_failure"
	KindGenerationFailure     Kind = "generation_failure"
	KindNotReady              Kind = "not_ready"
	KindInvalidRequest        Kind = "invalid_request"

	// KindInternal covers session store and lock failures.
	KindInternal Kind = "internal"
)

// ErrNotReady is returned by Service.Ask until a pipeline is installed.
var ErrNotReady = errors.New("assistant is not ready")

// Error is a failure of one pipeline operation.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind

	// Op names the operation that failed (for example "retrieve").
	Op string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so errors.Is(err,
// &Error{Kind: KindNotReady}) works without inspecting Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
