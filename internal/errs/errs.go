package errs

import (
	"errors"
	"fmt"
)

// Kind classifies every error crossing a component boundary. No raw
// provider or driver error escapes untranslated.
type Kind string

const (
	NoUpstream       Kind = "no_upstream"
	Implausible      Kind = "implausible"
	InsufficientData Kind = "insufficient_data"
	ModelFailure     Kind = "model_failure"
	StoreError       Kind = "store_error"
	BadInput         Kind = "bad_input"
)

// Error is the single error payload surfaced to callers.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	Symbol string `json:"symbol,omitempty"`
	Err    error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, symbol, format string, a ...any) *Error {
	return &Error{Kind: kind, Symbol: symbol, Detail: fmt.Sprintf(format, a...)}
}

// Wrap translates an underlying error into the given kind.
func Wrap(kind Kind, symbol string, err error, format string, a ...any) *Error {
	return &Error{Kind: kind, Symbol: symbol, Detail: fmt.Sprintf(format, a...), Err: err}
}

// KindOf extracts the kind from err, or an empty Kind for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
