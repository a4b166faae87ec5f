// Package ndtserr defines the error taxonomy shared across the ndtsdb
// storage and query engine. Every subsystem returns *Error (or wraps
// one with github.com/pkg/errors) instead of ad-hoc string errors so
// callers can branch on Kind with errors.As.
package ndtserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories named in the engine's error
// handling design.
type Kind int

const (
	Unknown Kind = iota
	SchemaMismatch
	MissingField
	TypeError
	CapacityExhausted
	CorruptHeader
	CorruptChunk
	FileNotFound
	IOError
	ColumnMissing
	IndexMismatch
	SQLParseError
	SQLPlanError
	SQLTypeError
)

func (k Kind) String() string {
	switch k {
	case SchemaMismatch:
		return "SchemaMismatch"
	case MissingField:
		return "MissingField"
	case TypeError:
		return "TypeError"
	case CapacityExhausted:
		return "CapacityExhausted"
	case CorruptHeader:
		return "CorruptHeader"
	case CorruptChunk:
		return "CorruptChunk"
	case FileNotFound:
		return "FileNotFound"
	case IOError:
		return "IOError"
	case ColumnMissing:
		return "ColumnMissing"
	case IndexMismatch:
		return "IndexMismatch"
	case SQLParseError:
		return "SQLParseError"
	case SQLPlanError:
		return "SQLPlanError"
	case SQLTypeError:
		return "SQLTypeError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every ndtsdb subsystem.
type Error struct {
	Kind    Kind
	Message string
	// ChunkIndex is set for CorruptChunk.
	ChunkIndex int
	// Pos is set for SQLParseError / SQLPlanError when a source
	// position is available.
	Pos   *Position
	cause error
}

// Position is a 1-based line/column source location.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

func (e *Error) Error() string {
	if e.Pos != nil {
		if e.cause != nil {
			return fmt.Sprintf("%s at %s: %s: %v", e.Kind, e.Pos, e.Message, e.cause)
		}
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Pos, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/context to an underlying error, preserving it for
// errors.Unwrap/errors.Is/errors.As chains via pkg/errors.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// WithPos attaches a source position, used for SQL parse/plan errors.
func (e *Error) WithPos(pos Position) *Error {
	e.Pos = pos.clone()
	return e
}

func (p Position) clone() *Position {
	q := p
	return &q
}

// Is allows errors.Is(err, ndtserr.CorruptChunk) style checks against
// the Kind, by comparing against a zero-value sentinel built with
// KindSentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindSentinel returns a comparable zero-value *Error of the given
// kind, suitable for errors.Is(err, ndtserr.KindSentinel(ndtserr.CorruptHeader)).
func KindSentinel(k Kind) *Error { return &Error{Kind: k} }

// As is a small convenience wrapper around the standard errors.As for
// extracting the Kind from an arbitrary error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
