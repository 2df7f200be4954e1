package events

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/accessor"
	"github.com/driftline/driftline/internal/clock"
	"github.com/driftline/driftline/internal/domain"
	"github.com/driftline/driftline/internal/store"
)

// fakeAPI overrides the event endpoints it needs; anything else panics
// through the embedded nil interface.
type fakeAPI struct {
	domain.API
	getEvents   func(ctx context.Context, f *domain.Filter) ([]domain.Event, error)
	createEvent func(ctx context.Context, e domain.Event) (domain.Event, error)
	updateEvent func(ctx context.Context, e domain.Event) (domain.Event, error)
	deleteEvent func(ctx context.Context, id string) (domain.Event, error)
}

func (f *fakeAPI) GetEvents(ctx context.Context, fl *domain.Filter) ([]domain.Event, error) {
	return f.getEvents(ctx, fl)
}

func (f *fakeAPI) CreateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	return f.createEvent(ctx, e)
}

func (f *fakeAPI) UpdateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	return f.updateEvent(ctx, e)
}

func (f *fakeAPI) DeleteEvent(ctx context.Context, id string) (domain.Event, error) {
	return f.deleteEvent(ctx, id)
}

type fixture struct {
	svc   *Service
	store *store.MirrorStore
	scope *domain.Scope
	dual  *accessor.Dual
}

func newFixture(t *testing.T, api domain.API, useAPI, useCache bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ref := &domain.CacheRef{}
	if useCache {
		ref.Set(st)
	}
	lifecycle, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dual := accessor.New(accessor.NewActivation(useAPI, useCache), ref, lifecycle, logger)
	scope := domain.NewScope()
	return &fixture{
		svc:   NewService(dual, api, clock.New(), scope, logger),
		store: st,
		scope: scope,
		dual:  dual,
	}
}

func collect[T any](ch <-chan accessor.Result[T]) []accessor.Result[T] {
	var out []accessor.Result[T]
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestGetDeliversPreviewThenAuthoritative(t *testing.T) {
	api := &fakeAPI{
		getEvents: func(context.Context, *domain.Filter) ([]domain.Event, error) {
			return []domain.Event{
				{ID: "e1", StreamID: "a", Time: 1},
				{ID: "e2", StreamID: "a", Time: 2},
			}, nil
		},
	}
	fx := newFixture(t, api, true, true)
	require.NoError(t, fx.store.PutEvents(domain.Event{ID: "e1", StreamID: "a", Time: 1}))

	results := collect(fx.svc.Get(context.Background(), nil))

	require.Len(t, results, 2)
	assert.Equal(t, accessor.SourceCache, results[0].Source)
	assert.Len(t, results[0].Value, 1)
	assert.True(t, results[1].Authoritative)
	assert.Len(t, results[1].Value, 2)

	// The authoritative listing is mirrored back into the cache.
	fx.dual.Drain()
	_, ok, err := fx.store.GetEvent("e2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetSkipsPreviewOutsideScope(t *testing.T) {
	api := &fakeAPI{
		getEvents: func(context.Context, *domain.Filter) ([]domain.Event, error) {
			return []domain.Event{{ID: "e9", StreamID: "b", Time: 9}}, nil
		},
	}
	fx := newFixture(t, api, true, true)
	fx.scope.Set(&domain.Filter{StreamIDs: []string{"a"}})
	require.NoError(t, fx.store.Configure(fx.scope.Filter()))

	results := collect(fx.svc.Get(context.Background(), &domain.Filter{StreamIDs: []string{"b"}}))

	require.Len(t, results, 1, "no preview for a filter the cache cannot fully cover")
	assert.True(t, results[0].Authoritative)
	assert.Equal(t, accessor.SourceAPI, results[0].Source)
}

func TestGetCacheOnlyServesMirror(t *testing.T) {
	fx := newFixture(t, &fakeAPI{}, false, true)
	require.NoError(t, fx.store.PutEvents(
		domain.Event{ID: "live", StreamID: "a", Time: 2},
		domain.Event{ID: "gone", StreamID: "a", Time: 1, Trashed: true},
	))

	results := collect(fx.svc.Get(context.Background(), &domain.Filter{StreamIDs: []string{"a"}}))

	require.Len(t, results, 1)
	require.True(t, results[0].Authoritative)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Value, 1, "default state hides trashed events")
	assert.Equal(t, "live", results[0].Value[0].ID)
}

func TestCreateAssignsIDAndReconcilesServerID(t *testing.T) {
	api := &fakeAPI{
		createEvent: func(_ context.Context, e domain.Event) (domain.Event, error) {
			e.ID = "server-1"
			e.Created = e.Time
			e.Modified = e.Time
			return e, nil
		},
	}
	fx := newFixture(t, api, true, true)

	results := collect(fx.svc.Create(context.Background(), domain.Event{StreamID: "a", Type: "note/txt", Content: "hi"}))

	require.Len(t, results, 2)
	preview, final := results[0], results[1]

	assert.NotEmpty(t, preview.Value.ID, "client assigns an id before the server answers")
	assert.NotZero(t, preview.Value.Time, "missing time falls back to the server-clock estimate")
	assert.Equal(t, "server-1", final.Value.ID)

	fx.dual.Drain()
	_, ok, err := fx.store.GetEvent(preview.Value.ID)
	require.NoError(t, err)
	assert.False(t, ok, "the preview copy is dropped once the server id is known")
	_, ok, err = fx.store.GetEvent("server-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateCacheOnlyRejectsOutOfScope(t *testing.T) {
	fx := newFixture(t, &fakeAPI{}, false, true)
	fx.scope.Set(&domain.Filter{StreamIDs: []string{"a"}})
	require.NoError(t, fx.store.Configure(fx.scope.Filter()))

	results := collect(fx.svc.Create(context.Background(), domain.Event{StreamID: "b"}))

	require.Len(t, results, 1)
	var cerr *domain.CacheError
	require.ErrorAs(t, results[0].Err, &cerr)
}

func TestUpdateCacheOnlyStampsModified(t *testing.T) {
	fx := newFixture(t, &fakeAPI{}, false, true)
	require.NoError(t, fx.store.PutEvents(domain.Event{ID: "e1", StreamID: "a", Time: 5}))

	results := collect(fx.svc.Update(context.Background(), domain.Event{ID: "e1", StreamID: "a", Time: 5, Content: "edited"}))

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.NotZero(t, results[0].Value.Modified)

	e, ok, err := fx.store.GetEvent("e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "edited", e.Content)
}

func TestDeleteCacheOnlyTrashesThenDeletes(t *testing.T) {
	fx := newFixture(t, &fakeAPI{}, false, true)
	require.NoError(t, fx.store.PutEvents(domain.Event{ID: "e1", StreamID: "a", Time: 5}))

	first, err := accessor.Final(fx.svc.Delete(context.Background(), "e1"))
	require.NoError(t, err)
	assert.True(t, first.Trashed)
	assert.False(t, first.Deleted)

	second, err := accessor.Final(fx.svc.Delete(context.Background(), "e1"))
	require.NoError(t, err)
	assert.True(t, second.Deleted)

	_, ok, err := fx.store.GetEvent("e1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = accessor.Final(fx.svc.Delete(context.Background(), "e1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteDualReconcilesTombstone(t *testing.T) {
	api := &fakeAPI{
		deleteEvent: func(_ context.Context, id string) (domain.Event, error) {
			return domain.Event{ID: id, StreamID: "a", Time: 5, Trashed: true}, nil
		},
	}
	fx := newFixture(t, api, true, true)
	require.NoError(t, fx.store.PutEvents(domain.Event{ID: "e1", StreamID: "a", Time: 5}))

	final, err := accessor.Final(fx.svc.Delete(context.Background(), "e1"))
	require.NoError(t, err)
	assert.True(t, final.Trashed)

	fx.dual.Drain()
	e, ok, err := fx.store.GetEvent("e1")
	require.NoError(t, err)
	require.True(t, ok, "trashed copies stay mirrored")
	assert.True(t, e.Trashed)
}
