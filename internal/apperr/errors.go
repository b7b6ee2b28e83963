// Package apperr holds the error kinds shared by the checkout core and the
// HTTP layer. Callers wrap a kind with detail and match it with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidCallback  = errors.New("invalid callback")
	ErrPersistence      = errors.New("persistence error")
)

// Validation wraps ErrValidation with a client-visible reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Persistence marks a database failure. The cause is kept for logs but is
// never shown to clients.
func Persistence(op string, err error) error {
	return &persistenceError{op: op, err: err}
}

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.op, e.err)
}

func (e *persistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.err}
}

// Detail strips the kind prefix from a wrapped validation/not-found message.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrForbidden} {
		prefix := kind.Error() + ": "
		msg := err.Error()
		if errors.Is(err, kind) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return err.Error()
}
