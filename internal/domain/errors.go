package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for data access operations
var (
	// ErrSourceUnavailable indicates both the API and the cache are
	// deactivated; a caller configuration error, always surfaced
	ErrSourceUnavailable = errors.New("no data source active")

	// ErrConnectionClosed indicates the owning connection was torn down
	// while the operation was in flight
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotFound indicates the requested entity exists in no active source
	ErrNotFound = errors.New("not found")

	// ErrAuthFailed indicates the access token was rejected
	ErrAuthFailed = errors.New("access token is invalid")
)

// RemoteError wraps a failed API round trip. The network is never retried
// here; the cause is carried for the caller.
type RemoteError struct {
	Op     string // e.g. "get events"
	Status int    // HTTP status, 0 on transport failure
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// CacheError wraps a local storage failure. Degraded to a warning when an
// API result exists for the same operation; fatal when the cache is the
// only active source.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
