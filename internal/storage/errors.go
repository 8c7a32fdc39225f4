package storage

import "errors"

var (
	// ErrNotFound is returned when a queried row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrNoPricing is returned when no active pricing entry exists for a
	// (provider, model) pair. Callers treat this as zero cost plus a
	// no_pricing_info diagnostic flag, never as a request failure.
	ErrNoPricing = errors.New("storage: no active pricing entry")

	// ErrDuplicate is returned when an insert collides with an existing
	// unique key.
	ErrDuplicate = errors.New("storage: duplicate entry")
)
