package domain

import (
	"context"
	"sync"
)

// API is the network side of the dual-source accessors. Implementations
// fail with *RemoteError on transport or HTTP failure; a transport timeout
// is a RemoteError like any other.
type API interface {
	GetEvents(ctx context.Context, f *Filter) ([]Event, error)
	CreateEvent(ctx context.Context, e Event) (Event, error)
	UpdateEvent(ctx context.Context, e Event) (Event, error)
	// DeleteEvent trashes a live event and permanently deletes a trashed
	// one; the returned event carries Trashed or Deleted accordingly.
	DeleteEvent(ctx context.Context, id string) (Event, error)

	GetStreams(ctx context.Context, f *Filter) ([]Stream, error)
	CreateStream(ctx context.Context, s Stream) (Stream, error)
	UpdateStream(ctx context.Context, s Stream) (Stream, error)
	DeleteStream(ctx context.Context, id string) (Stream, error)
}

// Cache is the local persistent mirror. Implementations apply the cache
// scope on writes, not on reads: whatever made it into the cache stays
// readable until invalidated. Failures are *CacheError.
type Cache interface {
	// Configure re-scopes future writes. Entries already cached outside
	// the new scope are not evicted here; eviction is the owner's call.
	Configure(f *Filter) error

	GetEvents(f *Filter) ([]Event, error)
	GetEvent(id string) (Event, bool, error)
	PutEvents(events ...Event) error
	DeleteEvent(id string) error

	GetStreams() ([]Stream, error)
	GetStream(id string) (Stream, bool, error)
	PutStreams(streams ...Stream) error
	DeleteStream(id string) error

	// InvalidateStream removes a stream and every cached event attached
	// to it. Descendant streams are the caller's concern.
	InvalidateStream(id string) error
	InvalidateAll() error
	Close() error
}

// CacheRef holds the possibly-not-yet-opened cache handle. Accessors
// resolve it per call, so a cache opened after construction (a scope set
// on a connection built with caching off) is picked up without rewiring.
type CacheRef struct {
	mu sync.RWMutex
	c  Cache
}

func (r *CacheRef) Set(c Cache) {
	r.mu.Lock()
	r.c = c
	r.mu.Unlock()
}

// Get returns the current handle, nil when none was opened.
func (r *CacheRef) Get() Cache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.c
}
