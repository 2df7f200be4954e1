// Package streams exposes dual-source access to the stream hierarchy.
package streams

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/driftline/driftline/internal/accessor"
	"github.com/driftline/driftline/internal/clock"
	"github.com/driftline/driftline/internal/domain"
	"github.com/driftline/driftline/internal/streamtree"
)

// Service runs stream operations through the dual-source accessor and
// keeps the tree registry in step with every result. Listings feed the
// registry from both sources, cache preview first, so a tree is available
// as soon as anything answered; single writes touch the registry once the
// authoritative entity is known.
type Service struct {
	dual     *accessor.Dual
	api      domain.API
	clock    *clock.Sync
	scope    *domain.Scope
	registry *streamtree.Registry
	logger   *slog.Logger
}

func NewService(dual *accessor.Dual, api domain.API, clk *clock.Sync, scope *domain.Scope, registry *streamtree.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dual: dual, api: api, clock: clk, scope: scope, registry: registry, logger: logger}
}

// Registry returns the tree registry the service maintains.
func (s *Service) Registry() *streamtree.Registry {
	return s.registry
}

// Get lists streams selected by f and feeds the tree from the result.
// The wire format is flat; parent-child shape is derived locally. Only a
// listing no filter narrowed may replace the registry wholesale; any
// narrowed one upserts, so a partial answer cannot collapse the tree.
func (s *Service) Get(ctx context.Context, f *domain.Filter) <-chan accessor.Result[[]domain.Stream] {
	return accessor.Run(ctx, s.dual, accessor.Op[[]domain.Stream]{
		Name: "get streams",
		Local: func(c domain.Cache, sole bool) ([]domain.Stream, bool, error) {
			all, err := c.GetStreams()
			if err != nil {
				return nil, false, err
			}
			if !sole && len(all) == 0 {
				return nil, false, nil
			}
			matched := filterStreams(f, all)
			if !sole {
				// Previews feed the tree too; the sole-source path goes
				// through Apply like the authoritative one.
				s.apply(f, matched)
			}
			return matched, true, nil
		},
		Remote: func(ctx context.Context) ([]domain.Stream, error) {
			return s.api.GetStreams(ctx, f)
		},
		Apply: func(streams []domain.Stream) {
			s.apply(f, streams)
		},
		Reconcile: func(c domain.Cache, streams []domain.Stream) error {
			return c.PutStreams(streams...)
		},
	})
}

// apply integrates a listing into the registry; the swap or upsert and
// the tree rebuild happen in one exclusive section.
func (s *Service) apply(f *domain.Filter, streams []domain.Stream) {
	var rep streamtree.Report
	if f.NarrowsStreams() {
		rep = s.registry.PutAll(streams)
	} else {
		rep = s.registry.ReplaceAll(streams)
	}
	if !rep.Clean() {
		s.logger.Info("stream tree rebuilt with anomalies",
			"streams", len(streams), "orphaned", len(rep.Orphaned), "unreachable", len(rep.Unreachable))
	}
}

// filterStreams applies f to a cached listing; the remote side filters
// server-side.
func filterStreams(f *domain.Filter, all []domain.Stream) []domain.Stream {
	if f == nil {
		return all
	}
	out := make([]domain.Stream, 0, len(all))
	for _, st := range all {
		if f.MatchesStream(&st) {
			out = append(out, st)
		}
	}
	return out
}

// Create registers a new stream. A missing id is assigned client-side;
// if the server assigns its own, the superseded preview id is removed
// from registry and cache during apply and reconciliation.
func (s *Service) Create(ctx context.Context, st domain.Stream) <-chan accessor.Result[domain.Stream] {
	if st.ID == "" {
		st.ID = ulid.Make().String()
	}
	localID := st.ID

	return accessor.Run(ctx, s.dual, accessor.Op[domain.Stream]{
		Name: "create stream",
		Local: func(c domain.Cache, sole bool) (domain.Stream, bool, error) {
			if !s.scope.AllowsStream(&st) {
				if sole {
					return domain.Stream{}, false, &domain.CacheError{Op: "create stream", Err: errors.New("stream outside cache scope")}
				}
				return domain.Stream{}, false, nil
			}
			stamped := st
			now := s.clock.ServerNow()
			stamped.Created = now
			stamped.Modified = now
			if err := c.PutStreams(stamped); err != nil {
				return domain.Stream{}, false, err
			}
			return stamped, true, nil
		},
		Remote: func(ctx context.Context) (domain.Stream, error) {
			return s.api.CreateStream(ctx, st)
		},
		Apply: func(final domain.Stream) {
			s.registry.Rename(localID, final)
		},
		Reconcile: func(c domain.Cache, final domain.Stream) error {
			if final.ID != localID {
				if err := c.DeleteStream(localID); err != nil {
					return err
				}
			}
			return c.PutStreams(final)
		},
	})
}

// Update modifies an existing stream; reparenting takes effect in the
// tree as soon as the authoritative entity is applied.
func (s *Service) Update(ctx context.Context, st domain.Stream) <-chan accessor.Result[domain.Stream] {
	return accessor.Run(ctx, s.dual, accessor.Op[domain.Stream]{
		Name: "update stream",
		Local: func(c domain.Cache, sole bool) (domain.Stream, bool, error) {
			if !s.scope.AllowsStream(&st) {
				if sole {
					return domain.Stream{}, false, &domain.CacheError{Op: "update stream", Err: errors.New("stream outside cache scope")}
				}
				return domain.Stream{}, false, nil
			}
			stamped := st
			stamped.Modified = s.clock.ServerNow()
			if err := c.PutStreams(stamped); err != nil {
				return domain.Stream{}, false, err
			}
			return stamped, true, nil
		},
		Remote: func(ctx context.Context) (domain.Stream, error) {
			return s.api.UpdateStream(ctx, st)
		},
		Apply: func(final domain.Stream) {
			s.registry.Put(final)
		},
		Reconcile: func(c domain.Cache, final domain.Stream) error {
			return c.PutStreams(final)
		},
	})
}

// Delete trashes a live stream; deleting it again is permanent and takes
// the stream's mirrored events with it.
func (s *Service) Delete(ctx context.Context, id string) <-chan accessor.Result[domain.Stream] {
	return accessor.Run(ctx, s.dual, accessor.Op[domain.Stream]{
		Name: "delete stream",
		Local: func(c domain.Cache, sole bool) (domain.Stream, bool, error) {
			st, ok, err := c.GetStream(id)
			if err != nil {
				return domain.Stream{}, false, err
			}
			if !ok {
				return domain.Stream{}, false, nil
			}
			if st.Trashed {
				if err := c.InvalidateStream(id); err != nil {
					return domain.Stream{}, false, err
				}
				return domain.Stream{ID: id, Deleted: true}, true, nil
			}
			st.Trashed = true
			st.Modified = s.clock.ServerNow()
			if err := c.PutStreams(st); err != nil {
				return domain.Stream{}, false, err
			}
			return st, true, nil
		},
		Remote: func(ctx context.Context) (domain.Stream, error) {
			return s.api.DeleteStream(ctx, id)
		},
		Apply: func(final domain.Stream) {
			if final.Deleted {
				s.registry.Remove(id)
			} else {
				s.registry.Put(final)
			}
		},
		Reconcile: func(c domain.Cache, final domain.Stream) error {
			if final.Deleted {
				return c.InvalidateStream(id)
			}
			return c.PutStreams(final)
		},
	})
}
