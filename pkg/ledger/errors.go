package ledger

import "errors"

var (
	// ErrNotFound is returned by UpdateState when the destination was never recorded.
	ErrNotFound = errors.New("ledger record not found")
	// ErrMissingDestination is returned when a record has no destination.
	ErrMissingDestination = errors.New("ledger record has no destination")
)
