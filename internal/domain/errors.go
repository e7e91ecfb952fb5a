// Package domain holds the types and error kinds shared across the memory
// manager: RR classes, zone/reader identifiers, and the error taxonomy from
// the failure semantics design.
package domain

import "github.com/pkg/errors"

// Kind classifies an error raised anywhere in the manager so handlers can
// decide whether to answer the bus, log and swallow, or exit the process.
type Kind int

const (
	// KindConfigError marks invalid or unusable configuration.
	KindConfigError Kind = iota
	// KindBadLoadZoneArgs marks a missing/invalid class, datasource, or origin.
	KindBadLoadZoneArgs
	// KindNoDataSource marks a loadzone issued before any generation exists.
	KindNoDataSource
	// KindUnknownReaderOrSegment marks an ack referencing an unknown reader
	// or segment.
	KindUnknownReaderOrSegment
	// KindBuilderFailure marks a loader failure reported by the builder.
	KindBuilderFailure
	// KindFatalSetup marks an initial configuration or builder-thread
	// creation failure; the process should exit non-zero.
	KindFatalSetup
)

func (k Kind) String() string {
	switch k {
	case KindConfigError:
		return "ConfigError"
	case KindBadLoadZoneArgs:
		return "BadLoadZoneArgs"
	case KindNoDataSource:
		return "NoDataSource"
	case KindUnknownReaderOrSegment:
		return "UnknownReaderOrSegment"
	case KindBuilderFailure:
		return "BuilderFailure"
	case KindFatalSetup:
		return "FatalSetup"
	default:
		return "Unknown"
	}
}

// Error is a structured error tagged with a Kind, so callers can branch on
// it with errors.As instead of string matching.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// NewError builds a Kind-tagged error with a message.
func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// WrapError builds a Kind-tagged error wrapping a lower-level cause.
func WrapError(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: err}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is a
// *Error. ok is false for plain errors.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
