package streamtree

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/domain"
)

func testRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRebuildPartitionsRootsAndChildren(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", ParentID: "a"},
		{ID: "c", Name: "C", ParentID: "z"},
	})

	rep := r.Rebuild()

	roots := r.Roots()
	require.Len(t, roots, 1)
	require.Contains(t, roots, "a")

	a := roots["a"]
	require.Len(t, a.Children, 1)
	assert.Equal(t, "b", a.Children[0].ID)

	// "c" names a parent that does not exist: dropped from the tree but
	// still present in the flat registry.
	assert.Equal(t, []string{"c"}, rep.Orphaned)
	assert.Empty(t, rep.Unreachable)
	assert.False(t, rep.Clean())
	_, ok := r.Get("c")
	assert.True(t, ok)
}

func TestRebuildIsIdempotent(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a"},
		{ID: "b", ParentID: "a"},
		{ID: "c", ParentID: "a"},
		{ID: "d", ParentID: "b"},
	})

	first := r.Rebuild()
	second := r.Rebuild()

	assert.Equal(t, first, second)
	roots := r.Roots()
	require.Contains(t, roots, "a")
	a := roots["a"]
	require.Len(t, a.Children, 2)
	// Child lists are rebuilt from scratch each time; no duplicates.
	assert.Equal(t, "b", a.Children[0].ID)
	assert.Equal(t, "c", a.Children[1].ID)
	require.Len(t, a.Children[0].Children, 1)
	assert.Equal(t, "d", a.Children[0].Children[0].ID)
}

func TestRebuildChildOrderFollowsInsertion(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "root"},
		{ID: "x", ParentID: "root"},
		{ID: "y", ParentID: "root"},
		{ID: "z", ParentID: "root"},
	})
	r.Rebuild()

	root, ok := r.Get("root")
	require.True(t, ok)
	ids := make([]string, 0, len(root.Children))
	for _, c := range root.Children {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"x", "y", "z"}, ids)

	// Updating a child keeps its position.
	r.Put(domain.Stream{ID: "x", Name: "renamed", ParentID: "root"})
	r.Rebuild()
	root, _ = r.Get("root")
	assert.Equal(t, "x", root.Children[0].ID)
	assert.Equal(t, "renamed", root.Children[0].Name)
}

func TestRebuildSurvivesParentCycle(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	})

	rep := r.Rebuild()

	assert.Empty(t, r.Roots())
	assert.Empty(t, rep.Orphaned)
	assert.ElementsMatch(t, []string{"a", "b"}, rep.Unreachable)
}

func TestRebuildAfterReparenting(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", ParentID: "a"},
	})
	r.Rebuild()
	require.Len(t, r.Roots(), 2)

	// Move c under b; old child lists must not leak through.
	r.Put(domain.Stream{ID: "c", ParentID: "b"})
	rep := r.Rebuild()
	require.True(t, rep.Clean())

	a, _ := r.Get("a")
	b, _ := r.Get("b")
	assert.Empty(t, a.Children)
	require.Len(t, b.Children, 1)
	assert.Equal(t, "c", b.Children[0].ID)
}

func TestRemoveOrphansFormerChildren(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a"},
		{ID: "b", ParentID: "a"},
	})
	r.Rebuild()

	r.Remove("a")
	rep := r.Rebuild()

	assert.Empty(t, r.Roots())
	assert.Equal(t, []string{"b"}, rep.Orphaned)
	assert.Equal(t, 1, r.Len())
}

func TestRenameSwapsIDs(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "root"},
		{ID: "tmp", Name: "Draft", ParentID: "root"},
	})

	rep := r.Rename("tmp", domain.Stream{ID: "srv-9", Name: "Draft", ParentID: "root"})
	require.True(t, rep.Clean())

	_, ok := r.Get("tmp")
	assert.False(t, ok)
	got, ok := r.Get("srv-9")
	require.True(t, ok)
	assert.Equal(t, "Draft", got.Name)

	root, _ := r.Get("root")
	require.Len(t, root.Children, 1)
	assert.Equal(t, "srv-9", root.Children[0].ID)
}

func TestMutationsPublishCompleteTrees(t *testing.T) {
	r := testRegistry()
	listing := []domain.Stream{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", ParentID: "a"},
		{ID: "c", Name: "C", ParentID: "a"},
	}
	r.ReplaceAll(listing)

	// A reader polling the root view while listings are applied must
	// never see the swap without its rebuild: one root, two children,
	// every time.
	stop := make(chan struct{})
	var torn atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			roots := r.Roots()
			if len(roots) != 1 {
				torn.Add(1)
				continue
			}
			if a, ok := roots["a"]; !ok || len(a.Children) != 2 {
				torn.Add(1)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		r.ReplaceAll(listing)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, torn.Load(), "a reader observed a half-applied listing")
}

func TestSnapshotKeepsItsTree(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", ParentID: "a"},
	})

	roots := r.Roots()
	require.Len(t, roots, 1)
	a := roots["a"]
	require.Len(t, a.Children, 1)

	// Later mutations link fresh nodes; the snapshot is frozen, not
	// retroactively relinked under a walker.
	r.ReplaceAll([]domain.Stream{{ID: "a", Name: "A"}})
	require.Len(t, a.Children, 1)
	assert.Equal(t, "b", a.Children[0].ID)

	assert.Empty(t, r.Roots()["a"].Children)
}

func TestPutCopiesInput(t *testing.T) {
	r := testRegistry()
	s := domain.Stream{ID: "a", Name: "before"}
	r.Put(s)
	s.Name = "after"

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "before", got.Name)
}

func TestReplaceRootsBypassesBuilder(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{{ID: "a"}})
	r.Rebuild()

	external := map[string]*domain.Stream{
		"x": {ID: "x", Name: "external"},
	}
	r.ReplaceRoots(external)

	roots := r.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "external", roots["x"].Name)

	// Next rebuild recomputes from the flat registry.
	r.Rebuild()
	roots = r.Roots()
	require.Len(t, roots, 1)
	assert.Contains(t, roots, "a")
}

func TestSubtreeIDs(t *testing.T) {
	r := testRegistry()
	r.ReplaceAll([]domain.Stream{
		{ID: "a"},
		{ID: "b", ParentID: "a"},
		{ID: "c", ParentID: "b"},
		{ID: "d"},
	})
	r.Rebuild()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.SubtreeIDs("a"))
	assert.Equal(t, []string{"d"}, r.SubtreeIDs("d"))
	assert.Equal(t, []string{"nope"}, r.SubtreeIDs("nope"))
}
