package mempool

import "errors"

var (
	// ErrAlreadyKnown is returned when adding a transaction that already exists in the pool.
	ErrAlreadyKnown = errors.New("transaction already known")

	// ErrPoolFull is returned when the pool has reached its maximum capacity.
	ErrPoolFull = errors.New("transaction pool is full")
)
