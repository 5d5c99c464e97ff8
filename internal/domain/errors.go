package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a synchronous failure so callers (and the HTTP
// layer) can branch without string matching.
type ErrorKind int

const (
	// KindValidation covers missing or malformed input.
	KindValidation ErrorKind = iota + 1
	// KindNotFound covers absent jobs, bids, codes, users.
	KindNotFound
	// KindConflict covers illegal state transitions, consumed codes and
	// attempt lockouts; callers should re-fetch state, not retry blindly.
	KindConflict
	// KindForbidden covers ownership and assignment violations.
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Error is a typed domain error identifying the violated invariant.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a KindForbidden error.
func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Returns 0
// for non-domain errors (treated as internal by the HTTP layer).
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
