package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrStaleState indicates a compare-and-set lost against a concurrent
	// transition; callers should refetch and retry.
	ErrStaleState = errors.New("stale state")
)
