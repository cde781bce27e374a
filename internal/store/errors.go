package store

import "errors"

var (
	// ErrRecordNotFound is returned when Delete targets an id the store
	// has no live record for. Get reports a missing id through its bool
	// result instead.
	ErrRecordNotFound = errors.New("store: record not found")

	// ErrCorruptFrame is returned when a record frame fails AEAD
	// verification or is truncated, meaning the file was damaged or
	// sealed under a different key.
	ErrCorruptFrame = errors.New("store: corrupt or unverifiable record frame")

	// ErrClosed is returned when an operation is attempted on a Store
	// after Close.
	ErrClosed = errors.New("store: already closed")
)
