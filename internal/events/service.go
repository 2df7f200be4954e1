// Package events exposes dual-source access to the event records.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/driftline/driftline/internal/accessor"
	"github.com/driftline/driftline/internal/clock"
	"github.com/driftline/driftline/internal/domain"
)

// Service runs event operations through the dual-source accessor. Reads
// may yield a cache preview before the API answer; writes are applied
// optimistically to the cache when it previews, then reconciled with the
// authoritative entity.
type Service struct {
	dual   *accessor.Dual
	api    domain.API
	clock  *clock.Sync
	scope  *domain.Scope
	logger *slog.Logger
}

func NewService(dual *accessor.Dual, api domain.API, clk *clock.Sync, scope *domain.Scope, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dual: dual, api: api, clock: clk, scope: scope, logger: logger}
}

// Get lists events selected by f. A dual-source call previews from the
// cache only when the scope fully covers the filter, so previews are
// never silently partial; a cache-only call serves whatever is mirrored.
func (s *Service) Get(ctx context.Context, f *domain.Filter) <-chan accessor.Result[[]domain.Event] {
	return accessor.Run(ctx, s.dual, accessor.Op[[]domain.Event]{
		Name: "get events",
		Local: func(c domain.Cache, sole bool) ([]domain.Event, bool, error) {
			if !sole && !s.scope.Covers(f) {
				s.logger.Debug("filter exceeds cache scope, skipping preview", "filter", f.String())
				return nil, false, nil
			}
			events, err := c.GetEvents(f)
			if err != nil {
				return nil, false, err
			}
			return events, true, nil
		},
		Remote: func(ctx context.Context) ([]domain.Event, error) {
			return s.api.GetEvents(ctx, f)
		},
		Reconcile: func(c domain.Cache, events []domain.Event) error {
			return c.PutEvents(events...)
		},
	})
}

// Create records a new event. A missing id is assigned client-side and a
// missing time is the current server-clock estimate; the server may
// replace both, and the cache copy under a superseded id is dropped
// during reconciliation.
func (s *Service) Create(ctx context.Context, e domain.Event) <-chan accessor.Result[domain.Event] {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Time == 0 {
		e.Time = s.clock.ServerNow()
	}
	localID := e.ID

	return accessor.Run(ctx, s.dual, accessor.Op[domain.Event]{
		Name: "create event",
		Local: func(c domain.Cache, sole bool) (domain.Event, bool, error) {
			if !s.scope.AllowsEvent(&e) {
				if sole {
					return domain.Event{}, false, &domain.CacheError{Op: "create event", Err: errors.New("event outside cache scope")}
				}
				return domain.Event{}, false, nil
			}
			stamped := e
			now := s.clock.ServerNow()
			stamped.Created = now
			stamped.Modified = now
			if err := c.PutEvents(stamped); err != nil {
				return domain.Event{}, false, err
			}
			return stamped, true, nil
		},
		Remote: func(ctx context.Context) (domain.Event, error) {
			return s.api.CreateEvent(ctx, e)
		},
		Reconcile: func(c domain.Cache, final domain.Event) error {
			if final.ID != localID {
				if err := c.DeleteEvent(localID); err != nil {
					return err
				}
			}
			return c.PutEvents(final)
		},
	})
}

// Update modifies an existing event.
func (s *Service) Update(ctx context.Context, e domain.Event) <-chan accessor.Result[domain.Event] {
	return accessor.Run(ctx, s.dual, accessor.Op[domain.Event]{
		Name: "update event",
		Local: func(c domain.Cache, sole bool) (domain.Event, bool, error) {
			if !s.scope.AllowsEvent(&e) {
				if sole {
					return domain.Event{}, false, &domain.CacheError{Op: "update event", Err: errors.New("event outside cache scope")}
				}
				return domain.Event{}, false, nil
			}
			stamped := e
			stamped.Modified = s.clock.ServerNow()
			if err := c.PutEvents(stamped); err != nil {
				return domain.Event{}, false, err
			}
			return stamped, true, nil
		},
		Remote: func(ctx context.Context) (domain.Event, error) {
			return s.api.UpdateEvent(ctx, e)
		},
		Reconcile: func(c domain.Cache, final domain.Event) error {
			return c.PutEvents(final)
		},
	})
}

// Delete trashes a live event; deleting it again is permanent. The
// authoritative result carries Trashed after the first call and Deleted
// after the second.
func (s *Service) Delete(ctx context.Context, id string) <-chan accessor.Result[domain.Event] {
	return accessor.Run(ctx, s.dual, accessor.Op[domain.Event]{
		Name: "delete event",
		Local: func(c domain.Cache, sole bool) (domain.Event, bool, error) {
			e, ok, err := c.GetEvent(id)
			if err != nil {
				return domain.Event{}, false, err
			}
			if !ok {
				return domain.Event{}, false, nil
			}
			if e.Trashed {
				if err := c.DeleteEvent(id); err != nil {
					return domain.Event{}, false, err
				}
				return domain.Event{ID: id, Deleted: true}, true, nil
			}
			e.Trashed = true
			e.Modified = s.clock.ServerNow()
			if err := c.PutEvents(e); err != nil {
				return domain.Event{}, false, err
			}
			return e, true, nil
		},
		Remote: func(ctx context.Context) (domain.Event, error) {
			return s.api.DeleteEvent(ctx, id)
		},
		Reconcile: func(c domain.Cache, final domain.Event) error {
			if final.Deleted {
				return c.DeleteEvent(id)
			}
			return c.PutEvents(final)
		},
	})
}
