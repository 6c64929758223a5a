// Package common defines sentinel errors and small helpers shared by the
// storage, crypto and retention layers of ClipDrop. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository and backend lookups.
	ErrorNotFound = errors.New("not found")

	// ErrStorageUnavailable marks a transient backend failure (I/O, network,
	// timeout). It is retryable; the sweeper retries on its next cycle.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidStorageKey is returned for keys that are empty or would
	// escape the backend root.
	ErrInvalidStorageKey = errors.New("invalid storage key")

	// Crypto errors.
	ErrAuthentication     = errors.New("authentication failed")
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// Validation / item-specific errors.
	ErrorIncorrectMetadata = errors.New("incorrect metadata")

	// ErrSweepInProgress is returned when a sweep cycle is requested while
	// another one is still running.
	ErrSweepInProgress = errors.New("sweep in progress")
)
