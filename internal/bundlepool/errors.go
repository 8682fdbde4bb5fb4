package bundlepool

import "errors"

var (
	// ErrEmptyBundle is returned when a submitted bundle carries no transactions.
	ErrEmptyBundle = errors.New("bundle contains no transactions")

	// ErrBundleAlreadyKnown is returned when the exact bundle is already in the pool.
	ErrBundleAlreadyKnown = errors.New("bundle already known")

	// ErrTimestampRange is returned when MaxTimestamp is below MinTimestamp.
	ErrTimestampRange = errors.New("bundle max timestamp below min timestamp")

	// ErrMinTimestampTooFar is returned when MinTimestamp lies too far in the future.
	ErrMinTimestampTooFar = errors.New("bundle min timestamp too far in the future")

	// ErrBundleOversized is returned when a single bundle exceeds the whole pool ceiling.
	ErrBundleOversized = errors.New("bundle exceeds pool size ceiling")
)
