package embeddings

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the embeddings layer. Every error
// crossing the package boundary is either an *Error with one of these kinds
// or a *resilience.CircuitOpenError passed through untouched.
type Kind string

const (
	// KindValidation marks malformed caller input.
	KindValidation Kind = "validation"
	// KindNotInitialized marks use of an engine or manager before a
	// successful Initialize.
	KindNotInitialized Kind = "engine_not_initialized"
	// KindNoEngine marks initialization failure of every candidate engine.
	KindNoEngine Kind = "no_engine_available"
	// KindInference marks an engine that ran and failed.
	KindInference Kind = "inference"
)

// Error pairs a message with machine-readable context fields.
type Error struct {
	Kind   Kind
	Fields map[string]any

	msg   string
	cause error
}

// newError constructs an Error of the given kind.
func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg, Fields: make(map[string]any)}
}

// With attaches a context field and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	e.Fields[key] = value
	return e
}

// Wrap records the underlying cause and returns the error for chaining.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsKind reports whether err is (or wraps) an embeddings Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// notInitializedError is returned when Embed is called before a successful
// Initialize.
func notInitializedError(engine EngineKind) *Error {
	e := newError(KindNotInitialized, "engine not initialized")
	if engine != "" {
		e.With("engine", string(engine))
	}
	return e
}

// inferenceError wraps an engine failure. It carries the input length but
// never the raw text.
func inferenceError(engine EngineKind, textLen int, cause error) *Error {
	return newError(KindInference, "embedding inference failed").
		With("engine", string(engine)).
		With("text_len", textLen).
		Wrap(cause)
}
