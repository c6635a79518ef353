// Package stacerr defines the typed error taxonomy surfaced by the STAC
// encode/normalize/denormalize pipeline. Every exported pipeline function
// wraps failures in an *Error so callers can branch with errors.As/errors.Is
// instead of matching on message text.
package stacerr

import (
	"context"
	"errors"
	"fmt"
)

type Code int

const (
	// MalformedInput covers unparsable JSON, invalid GeoJSON geometry, and
	// bbox values of the wrong length or inconsistent dimension.
	MalformedInput Code = iota
	// SchemaConflict covers batch schemas that cannot be unified under
	// permissive promotion, and property names colliding with a top-level
	// STAC key.
	SchemaConflict
	// UnsupportedTimestamp covers a timestamp column typed neither null,
	// string, nor timestamp.
	UnsupportedTimestamp
	// UnsupportedGeoParquetVersion covers a requested GeoParquet version
	// outside the closed supported set.
	UnsupportedGeoParquetVersion
	// IOError covers file or object-storage failures.
	IOError
	// Cancelled covers cooperative cancellation via context.
	Cancelled
)

func (c Code) String() string {
	switch c {
	case MalformedInput:
		return "MalformedInput"
	case SchemaConflict:
		return "SchemaConflict"
	case UnsupportedTimestamp:
		return "UnsupportedTimestamp"
	case UnsupportedGeoParquetVersion:
		return "UnsupportedGeoParquetVersion"
	case IOError:
		return "IOError"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error pairs a Code with the underlying cause, so a caller can branch on
// Code while still seeing the original error via Unwrap.
type Error struct {
	Code  Code
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap builds an *Error with the given code and cause. A nil cause is
// allowed for sentinel-style errors raised without an underlying failure.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// Wrapf is Wrap with a formatted cause, mirroring fmt.Errorf("%w", ...)
// callers in the rest of the codebase.
func Wrapf(code Code, format string, a ...any) *Error {
	return &Error{Code: code, cause: fmt.Errorf(format, a...)}
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// FromContext maps a context error to a Cancelled *Error, or returns nil if
// ctx carries no error.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(Cancelled, err)
	}
	return nil
}
