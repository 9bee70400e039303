package ledger

import "fmt"

// Kind is a typed error code, carried by results rather than thrown
// across component boundaries.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindCorrupt            Kind = "CORRUPT"
	KindVersionMismatch    Kind = "VERSION_MISMATCH"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
	KindSignatureInvalid   Kind = "SIGNATURE_INVALID"
	KindReplay             Kind = "REPLAY"
	KindShuttingDown       Kind = "SHUTTING_DOWN"
)

// Error is the common error type returned by core components. Callers
// use errors.As to recover the Kind and branch on it rather than
// matching on error strings.
type Error struct {
	Kind      Kind
	Component string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Component, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError constructs a Kind-tagged error attributed to component.
func NewError(component string, kind Kind, msg string) error {
	return &Error{Component: component, Kind: kind, Msg: msg}
}

// WrapError is NewError with an underlying cause preserved for %w chains.
func WrapError(component string, kind Kind, msg string, cause error) error {
	return &Error{Component: component, Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
