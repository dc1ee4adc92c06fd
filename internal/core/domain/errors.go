package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags a pipeline failure so callers can branch without type switches.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindResolution    ErrorKind = "resolution"
	KindGeneration    ErrorKind = "generation"
	KindParse         ErrorKind = "parse"
	KindSchema        ErrorKind = "schema"
	KindPersistence   ErrorKind = "persistence"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrResolution    = errors.New("resolution error")
	ErrGeneration    = errors.New("generation error")
	ErrParse         = errors.New("parse error")
	ErrSchema        = errors.New("schema error")
	ErrPersistence   = errors.New("persistence error")
)

var sentinels = map[ErrorKind]error{
	KindConfiguration: ErrConfiguration,
	KindResolution:    ErrResolution,
	KindGeneration:    ErrGeneration,
	KindParse:         ErrParse,
	KindSchema:        ErrSchema,
	KindPersistence:   ErrPersistence,
}

// Error is the tagged error returned by every pipeline component.
type Error struct {
	Kind     ErrorKind
	ItemID   ItemID
	Raw      string // raw service response for parse/schema failures
	Attempts int    // generation attempts made, when known
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.ItemID != "" {
		msg += fmt.Sprintf(" (item %s)", e.ItemID)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// ConfigurationError reports a fatal setup problem; the batch does not start.
func ConfigurationError(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}

// GenerationError wraps the last cause of a failed service call.
func GenerationError(attempts int, cause error) error {
	return &Error{Kind: KindGeneration, Attempts: attempts, Err: cause}
}

// ParseError reports a response that is not a JSON object.
func ParseError(raw string, cause error) error {
	return &Error{Kind: KindParse, Raw: raw, Err: cause}
}

// SchemaError reports a parseable response that violates the record invariants.
func SchemaError(raw string, format string, args ...any) error {
	return &Error{Kind: KindSchema, Raw: raw, Err: fmt.Errorf(format, args...)}
}

// PersistenceError wraps a failed append to one of the output stores.
func PersistenceError(cause error) error {
	return &Error{Kind: KindPersistence, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RawOf returns the raw response carried by err, if any.
func RawOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Raw
	}
	return ""
}

type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
