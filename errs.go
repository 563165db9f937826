package causaldoc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cshekharsharma/causaldoc/id"
)

// ErrorKind tags the taxonomy of errors the engine can return, per the
// error-handling design: a fixed set of kinds, not a fixed set of Go
// types, so callers can switch on Kind() regardless of which layer
// produced the error.
type ErrorKind uint8

const (
	// KindUsedOpID is raised applying a local op whose id is already in
	// the log.
	KindUsedOpID ErrorKind = iota
	// KindOutOfBound is raised by container mutations past the end of
	// their sequence.
	KindOutOfBound
	// KindDecodeError is raised by malformed snapshot/update bytes.
	KindDecodeError
	// KindFrontiersNotFound is raised by export/checkout referencing
	// unknown IDs.
	KindFrontiersNotFound
	// KindImportUpdatesOutdated is raised when imported updates precede
	// a shallow snapshot's trimmed boundary.
	KindImportUpdatesOutdated
	// KindCyclicMove is raised by a tree move that would create a
	// cycle.
	KindCyclicMove
	// KindDeserializeJSON is raised by JSON ingestion failure.
	KindDeserializeJSON
	// KindLock is raised when lock poisoning is detected.
	KindLock
)

func (k ErrorKind) String() string {
	switch k {
	case KindUsedOpID:
		return "UsedOpID"
	case KindOutOfBound:
		return "OutOfBound"
	case KindDecodeError:
		return "DecodeError"
	case KindFrontiersNotFound:
		return "FrontiersNotFound"
	case KindImportUpdatesOutdated:
		return "ImportUpdatesThatDependsOnOutdatedVersion"
	case KindCyclicMove:
		return "CyclicMoveError"
	case KindDeserializeJSON:
		return "DeserializeJsonStringError"
	case KindLock:
		return "LockError"
	default:
		return "Unknown"
	}
}

// Error is the engine's concrete error type. It always carries a Kind
// and, via github.com/pkg/errors, a stack trace captured at the point of
// construction.
type Error struct {
	kind  ErrorKind
	cause error
}

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

func wrapErr(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() ErrorKind { return e.kind }

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

// Unwrap exposes the underlying pkg/errors-wrapped cause so
// errors.Is/errors.As keep working across this boundary.
func (e *Error) Unwrap() error { return e.cause }

// StackTrace forwards to the pkg/errors stack tracer, if the cause
// carries one.
func (e *Error) StackTrace() errors.StackTrace {
	type tracer interface{ StackTrace() errors.StackTrace }
	if t, ok := e.cause.(tracer); ok {
		return t.StackTrace()
	}
	return nil
}

// ErrUsedOpID reports that a local op's id collides with one already in
// the log.
func ErrUsedOpID(want id.ID) error { return newErr(KindUsedOpID, "op id already used: %s", want) }

// ErrOutOfBound reports a mutation past the end of a container.
func ErrOutOfBound(pos, length int) error {
	return newErr(KindOutOfBound, "position %d out of bound (len=%d)", pos, length)
}

// ErrDecode wraps a lower-level decoding failure (CRC/frame/LEB128).
func ErrDecode(cause error, msg string) error {
	return wrapErr(KindDecodeError, cause, "%s", msg)
}

// ErrFrontiersNotFound reports that export/checkout referenced unknown
// IDs.
func ErrFrontiersNotFound(ids id.Frontiers) error {
	return newErr(KindFrontiersNotFound, "frontiers not found: %v", ids)
}

// ErrImportUpdatesOutdated reports that imported updates depend on
// history trimmed by a shallow snapshot boundary.
func ErrImportUpdatesOutdated() error {
	return newErr(KindImportUpdatesOutdated, "imported updates depend on a version older than the shallow boundary")
}

// ErrCyclicMove reports a tree move that would introduce a cycle.
func ErrCyclicMove(target id.ID) error {
	return newErr(KindCyclicMove, "move of %s would create a cycle", target)
}

// ErrDeserializeJSON wraps a JSON ingestion failure.
func ErrDeserializeJSON(cause error) error {
	return wrapErr(KindDeserializeJSON, cause, "failed to deserialize JSON value")
}

// ErrLock reports detected lock poisoning.
func ErrLock(msg string) error { return newErr(KindLock, "%s", msg) }

// KindOf extracts the ErrorKind from err, if it (or something it wraps)
// is an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return 0, false
}
