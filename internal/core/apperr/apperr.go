// Package apperr classifies every failure the entity graph can surface into
// one of a small set of kinds.
package apperr

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "store_unavailable"
	KindInternal    Kind = "internal"
)

const domain = "entitygraph"

// Validation reports malformed input. Callers must fix the input; retrying is pointless.
func Validation(format string, args ...any) error {
	return oops.In(domain).Code(string(KindValidation)).Wrapf(ErrValidation, format, args...)
}

// ValidationWith is Validation with extra context attributes.
func ValidationWith(kv []any, format string, args ...any) error {
	return oops.In(domain).Code(string(KindValidation)).With(kv...).Wrapf(ErrValidation, format, args...)
}

func NotFound(resource, id string) error {
	return oops.In(domain).Code(string(KindNotFound)).With(resource, id).Wrapf(ErrNotFound, "%s %q", resource, id)
}

// Conflict reports a lost race on a uniqueness guarantee. cause may be nil.
func Conflict(cause error, format string, args ...any) error {
	return oops.In(domain).Code(string(KindConflict)).Wrapf(join(ErrConflict, cause), format, args...)
}

// Unavailable marks cause as transient; the whole operation is safe to retry.
func Unavailable(cause error, op string) error {
	return oops.In(domain).Code(string(KindUnavailable)).With("op", op).Wrapf(join(ErrStoreUnavailable, cause), "%s", op)
}

func join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// KindOf maps err to its kind. Context deadlines count as store unavailability.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	default:
		return KindInternal
	}
}

func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool    { return KindOf(err) == KindConflict }
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }
