// Package atlaserr defines the engine's error taxonomy: a fixed set of
// kinds (spec §7), a chainable context carrier modeled on the teacher's
// models.CrawlError (URL/Stage/Err -> Op/Identifier/Err), and the mapping
// from a run outcome to a process exit code (spec §4.10).
package atlaserr

import "errors"

// Kind is one of the nine error kinds spec.md §7 names. Kinds classify
// failures for propagation-policy purposes; they are not Go types.
type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindAuthentication  Kind = "authentication"
	KindTransient       Kind = "transient"
	KindSourceData      Kind = "source_data"
	KindTransformation  Kind = "transformation"
	KindAnonymization   Kind = "anonymization"
	KindSink            Kind = "sink"
	KindCancelled       Kind = "cancelled"
	KindFatal           Kind = "fatal"
)

// Error is the engine's context-chaining error carrier. Op names the
// operation that failed (e.g. "source.fetch_composition"), Identifier is
// the domain identifier involved (an EhrId, TemplateId, or
// CompositionUid, stringified), and Err is the underlying cause, which
// may itself be an *Error for a multi-hop chain.
type Error struct {
	Kind       Kind
	Op         string
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Identifier != "" {
		msg += " [" + e.Identifier + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new Error, chaining cause.
func New(kind Kind, op, identifier string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Identifier: identifier, Err: cause}
}

// KindOf walks the error chain looking for the first *Error and returns
// its Kind, or KindFatal if none is found (an unclassified error is
// treated as the most conservative, process-ending kind).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsTransient reports whether err (or anything it wraps) is classified
// transient, i.e. eligible for the retry policy in spec §4.1.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
