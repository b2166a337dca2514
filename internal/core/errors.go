package core

import "errors"

// Failure classes shared by the storage and service layers.
var (
	ErrValidation          = errors.New("validation failure")
	ErrNotFound            = errors.New("not found")
	ErrPersistence         = errors.New("persistence failure")
	ErrConflict            = errors.New("concurrency conflict")
	ErrDuplicateOccurrence = errors.New("occurrence already recorded")
)

// IsRetryable reports whether a failed occurrence can be attempted again on a later run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrPersistence)
}
