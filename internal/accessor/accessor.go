// Package accessor implements dual-source reads and writes: operations can
// be served by the local cache, the remote API, or both. When both sources
// participate the caller receives up to two results on one channel, the
// cache preview strictly before the authoritative API result; with a single
// active source the only result is authoritative. The channel is closed
// after the final result, so ranging over it terminates.
package accessor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/driftline/driftline/internal/domain"
)

// Source identifies which side produced a result.
type Source string

const (
	SourceCache Source = "cache"
	SourceAPI   Source = "api"
)

// Result is one delivery of a dual-source operation. A non-authoritative
// result is a cache preview that a later result supersedes; errors on a
// preview are never surfaced here, only degraded coverage is.
type Result[T any] struct {
	Value         T
	Source        Source
	Authoritative bool
	Err           error
}

// Activation holds the per-source on/off switches. Toggling affects
// operations started afterwards; in-flight ones finish under the policy
// they started with.
type Activation struct {
	api   atomic.Bool
	cache atomic.Bool
}

func NewActivation(api, cache bool) *Activation {
	a := &Activation{}
	a.api.Store(api)
	a.cache.Store(cache)
	return a
}

func (a *Activation) API() bool       { return a.api.Load() }
func (a *Activation) Cache() bool     { return a.cache.Load() }
func (a *Activation) SetAPI(v bool)   { a.api.Store(v) }
func (a *Activation) SetCache(v bool) { a.cache.Store(v) }

// Op describes one operation to Run. Local serves the cache side: sole
// reports whether cache is the only active source, in which case a miss or
// error is final instead of a skipped preview. Remote serves the API side.
// Apply integrates the authoritative value into in-memory state before it
// is delivered. Reconcile writes the authoritative value back to the cache
// and runs asynchronously after delivery. Any field but Name may be nil; a
// nil Local or Remote simply makes that source unable to serve the op.
type Op[T any] struct {
	Name      string
	Local     func(c domain.Cache, sole bool) (T, bool, error)
	Remote    func(ctx context.Context) (T, error)
	Apply     func(v T)
	Reconcile func(c domain.Cache, v T) error
}

// Dual evaluates operations against the activation switches and the cache
// handle. The lifecycle context belongs to the owning connection: when it
// is done, in-flight remote calls are canceled and new operations fail
// with ErrConnectionClosed.
type Dual struct {
	act       *Activation
	cache     *domain.CacheRef
	lifecycle context.Context
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func New(act *Activation, cache *domain.CacheRef, lifecycle context.Context, logger *slog.Logger) *Dual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dual{act: act, cache: cache, lifecycle: lifecycle, logger: logger}
}

// Drain blocks until in-flight operations and their cache write-backs have
// finished. Callers must not start new operations concurrently with Drain.
func (d *Dual) Drain() {
	d.wg.Wait()
}

// Run starts op under the current policy and returns its result channel.
// The channel is buffered for the worst case, so results are never lost
// to a slow or absent reader and the worker never leaks.
func Run[T any](ctx context.Context, d *Dual, op Op[T]) <-chan Result[T] {
	ch := make(chan Result[T], 2)

	if err := d.lifecycle.Err(); err != nil {
		ch <- Result[T]{Source: SourceAPI, Authoritative: true, Err: fmt.Errorf("%s: %w", op.Name, domain.ErrConnectionClosed)}
		close(ch)
		return ch
	}

	handle := d.cache.Get()
	useCache := d.act.Cache() && handle != nil && op.Local != nil
	useAPI := d.act.API() && op.Remote != nil

	if !useCache && !useAPI {
		ch <- Result[T]{Authoritative: true, Err: fmt.Errorf("%s: %w", op.Name, domain.ErrSourceUnavailable)}
		close(ch)
		return ch
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(ch)

		if useCache && !useAPI {
			v, ok, err := op.Local(handle, true)
			if err != nil {
				ch <- Result[T]{Source: SourceCache, Authoritative: true, Err: fmt.Errorf("%s: %w", op.Name, err)}
				return
			}
			if !ok {
				ch <- Result[T]{Source: SourceCache, Authoritative: true, Err: fmt.Errorf("%s: %w", op.Name, domain.ErrNotFound)}
				return
			}
			if op.Apply != nil {
				op.Apply(v)
			}
			ch <- Result[T]{Value: v, Source: SourceCache, Authoritative: true}
			return
		}

		if useCache {
			if v, ok, err := op.Local(handle, false); err != nil {
				d.logger.Warn("cache preview failed", "op", op.Name, "error", err)
			} else if ok {
				ch <- Result[T]{Value: v, Source: SourceCache}
			} else {
				d.logger.Debug("cache preview empty", "op", op.Name)
			}
		}

		// Tie the remote call to both the caller and the connection
		// lifecycle, so teardown aborts it.
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(d.lifecycle, cancel)
		defer stop()

		v, err := op.Remote(rctx)
		if err != nil {
			if d.lifecycle.Err() != nil {
				err = domain.ErrConnectionClosed
			}
			ch <- Result[T]{Source: SourceAPI, Authoritative: true, Err: fmt.Errorf("%s: %w", op.Name, err)}
			return
		}

		if op.Apply != nil {
			op.Apply(v)
		}
		if useCache && op.Reconcile != nil {
			d.wg.Add(1)
			go reconcile(d, op, handle, v)
		}
		ch <- Result[T]{Value: v, Source: SourceAPI, Authoritative: true}
	}()
	return ch
}

// reconcile applies the authoritative value to the cache after delivery.
// It runs to completion even during teardown: Drain is called before the
// cache handle closes, so a value the caller already received is never
// lost to a racing Close. Failures degrade coverage, they never fail the
// operation.
func reconcile[T any](d *Dual, op Op[T], handle domain.Cache, v T) {
	defer d.wg.Done()
	if err := op.Reconcile(handle, v); err != nil {
		d.logger.Warn("cache write-back failed", "op", op.Name, "error", err)
	}
}

// Final drains a result channel and returns the authoritative outcome,
// for callers that have no use for previews.
func Final[T any](ch <-chan Result[T]) (T, error) {
	var last Result[T]
	for r := range ch {
		last = r
	}
	return last.Value, last.Err
}
