// Package streamtree maintains the flat stream registry and the root-stream
// view derived from it by parent-id references.
package streamtree

import (
	"log/slog"
	"sync"

	"github.com/driftline/driftline/internal/domain"
)

// Registry is the single source of truth for stream existence and
// parentage. It keeps streams in insertion order so rebuilt child lists
// are deterministic (Go maps iterate in random order). Every structural
// mutation rederives the tree before its lock is released, so readers
// only ever observe fully built views; reads take the shared side and
// never block each other.
type Registry struct {
	mu     sync.RWMutex
	flat   map[string]*domain.Stream
	order  []string // ids, insertion order
	roots  map[string]*domain.Stream
	logger *slog.Logger
}

// Report lists the anomalies of the last rebuild. A partial tree is valid
// and displayable; these are data-quality diagnostics, never errors.
type Report struct {
	// Orphaned streams declare a parent id absent from the flat registry.
	// They are silently dropped from the tree: neither roots nor children.
	Orphaned []string
	// Unreachable streams have an existing parent but cannot be reached
	// from any root (parent cycles). They terminate the rebuild normally
	// and end up outside the rooted view.
	Unreachable []string
}

// Clean reports whether the rebuild produced a fully connected tree.
func (r Report) Clean() bool {
	return len(r.Orphaned) == 0 && len(r.Unreachable) == 0
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		flat:   make(map[string]*domain.Stream),
		roots:  make(map[string]*domain.Stream),
		logger: logger,
	}
}

// Put inserts or replaces a stream and rederives the tree before the
// lock is released. The registry stores its own copy; a replaced stream
// keeps its original insertion position so child order stays stable
// across updates.
func (r *Registry) Put(s domain.Stream) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(s)
	return r.rebuildLocked()
}

// PutAll upserts a batch under a single lock with one rebuild at the
// end, for listings a filter may have narrowed to part of the stream
// set.
func (r *Registry) PutAll(streams []domain.Stream) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range streams {
		r.putLocked(s)
	}
	return r.rebuildLocked()
}

func (r *Registry) putLocked(s domain.Stream) {
	s.Children = nil
	if _, exists := r.flat[s.ID]; !exists {
		r.order = append(r.order, s.ID)
	}
	cp := s
	r.flat[s.ID] = &cp
}

// ReplaceAll swaps the registry contents for a full listing, in listing
// order, and rederives the tree in the same exclusive section: no reader
// can observe the new flat set under the old roots, or an emptied
// registry mid-swap.
func (r *Registry) ReplaceAll(streams []domain.Stream) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flat = make(map[string]*domain.Stream, len(streams))
	r.order = r.order[:0]
	for _, s := range streams {
		r.putLocked(s)
	}
	return r.rebuildLocked()
}

// Rename moves a stream to a new id in one step, for server responses
// that supersede a client-assigned id. When oldID already matches, it is
// a plain upsert.
func (r *Registry) Rename(oldID string, s domain.Stream) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldID != s.ID {
		r.removeLocked(oldID)
	}
	r.putLocked(s)
	return r.rebuildLocked()
}

// Remove deletes a stream and rederives the tree; former children, now
// orphaned, drop out of it.
func (r *Registry) Remove(id string) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
	return r.rebuildLocked()
}

func (r *Registry) removeLocked(id string) {
	if _, ok := r.flat[id]; !ok {
		return
	}
	delete(r.flat, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the registered stream for id.
func (r *Registry) Get(id string) (*domain.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.flat[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flat)
}

// Rebuild recomputes the root view and every child list from parent ids.
// Two passes, so the result does not depend on visiting parents before
// children: pass one copies every stream into a fresh unlinked node and
// collects the parentless ones as roots; pass two attaches each parented
// node to its parent when the parent exists. A stream whose parent is
// absent is dropped from the tree entirely, and a parent cycle leaves its
// members outside the rooted view; both cases terminate and are reported,
// not raised. Because linking happens on fresh nodes, snapshots handed
// out earlier keep the tree they were taken with.
func (r *Registry) Rebuild() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuildLocked()
}

func (r *Registry) rebuildLocked() Report {
	fresh := make(map[string]*domain.Stream, len(r.flat))
	roots := make(map[string]*domain.Stream)
	for _, id := range r.order {
		cp := *r.flat[id]
		cp.ClearChildren()
		fresh[id] = &cp
		if cp.ParentID == "" {
			roots[cp.ID] = &cp
		}
	}

	var rep Report
	orphaned := make(map[string]bool)
	for _, id := range r.order {
		s := fresh[id]
		if s.ParentID == "" {
			continue
		}
		parent, ok := fresh[s.ParentID]
		if !ok {
			orphaned[s.ID] = true
			rep.Orphaned = append(rep.Orphaned, s.ID)
			continue
		}
		parent.AddChild(s)
	}

	r.flat = fresh
	r.roots = roots

	// Diagnostics only: whatever a root cannot reach sits outside the
	// tree. Orphans are already reported above.
	reached := make(map[string]bool, len(fresh))
	for id := range roots {
		r.markReachableLocked(id, reached)
	}
	for _, id := range r.order {
		if !reached[id] && !orphaned[id] {
			rep.Unreachable = append(rep.Unreachable, id)
		}
	}

	if len(rep.Orphaned) > 0 {
		r.logger.Warn("streams dropped from tree: parent not in registry", "ids", rep.Orphaned)
	}
	if len(rep.Unreachable) > 0 {
		r.logger.Warn("streams unreachable from any root", "ids", rep.Unreachable)
	}
	return rep
}

func (r *Registry) markReachableLocked(id string, reached map[string]bool) {
	if reached[id] {
		return
	}
	reached[id] = true
	s, ok := r.flat[id]
	if !ok {
		return
	}
	for _, child := range s.Children {
		r.markReachableLocked(child.ID, reached)
	}
}

// Roots returns a snapshot of the root-stream view. The map is a copy
// and the nodes belong to the rebuild that produced them: later
// mutations link fresh nodes instead, so a snapshot stays internally
// consistent but ages as a whole. Treat the nodes as read-only.
func (r *Registry) Roots() map[string]*domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domain.Stream, len(r.roots))
	for id, s := range r.roots {
		out[id] = s
	}
	return out
}

// Flat returns a snapshot of the flat registry, same sharing rules as
// Roots.
func (r *Registry) Flat() map[string]*domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domain.Stream, len(r.flat))
	for id, s := range r.flat {
		out[id] = s
	}
	return out
}

// ReplaceRoots swaps the derived root view for an externally computed one,
// bypassing the tree builder. A trusted-input escape hatch: no validation
// against the flat registry is performed, and the next rebuild (explicit
// or through any mutation) overwrites it.
func (r *Registry) ReplaceRoots(roots map[string]*domain.Stream) {
	r.mu.Lock()
	r.roots = make(map[string]*domain.Stream, len(roots))
	for id, s := range roots {
		r.roots[id] = s
	}
	r.mu.Unlock()
}

// SubtreeIDs returns id plus every descendant id reachable through the
// current child lists, for expanding a subtree scope into explicit ids.
// Unknown ids yield just themselves.
func (r *Registry) SubtreeIDs(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		out = append(out, cur)
		if s, ok := r.flat[cur]; ok {
			for _, child := range s.Children {
				walk(child.ID)
			}
		}
	}
	walk(id)
	return out
}
