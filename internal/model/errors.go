package model

import (
	"errors"
	"fmt"
	"time"
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ErrPermanent marks a step failure that retrying cannot fix (bad credentials, missing input).
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so retry logic gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// ErrDuplicate is returned by stores when an insert hits the uniqueness constraint.
var ErrDuplicate = errors.New("duplicate key")

// PersistenceFailure records one listing the store could not accept.
type PersistenceFailure struct {
	Key Key
	Err error
}

func (f PersistenceFailure) Error() string {
	return fmt.Sprintf("persist %s: %v", f.Key, f.Err)
}

func (f PersistenceFailure) Unwrap() error {
	return f.Err
}

// ClassificationError wraps a classifier provider or parse failure.
type ClassificationError struct {
	Provider string
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify via %s: %v", e.Provider, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
