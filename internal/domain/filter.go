package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"sync"
)

// Entity states selectable by a filter.
const (
	StateDefault = "default" // live entities only
	StateTrashed = "trashed" // trashed entities only
	StateAll     = "all"
)

// Filter selects streams and events by stream membership, time range and
// state. A nil *Filter selects everything. It doubles as the cache scope:
// the predicate deciding which remote data is persisted locally.
type Filter struct {
	StreamIDs []string // empty = any stream
	FromTime  *float64 // seconds since epoch, nil = unbounded
	ToTime    *float64
	Limit     int    // 0 = no limit; listing queries only
	State     string // StateDefault when empty
}

// Time returns a *float64 for filter literals.
func Time(seconds float64) *float64 { return &seconds }

func (f *Filter) state() string {
	if f == nil || f.State == "" {
		return StateDefault
	}
	return f.State
}

// MatchesEvent reports whether the event is selected by the filter.
func (f *Filter) MatchesEvent(e *Event) bool {
	if f == nil {
		return true
	}
	if !f.matchesState(e.Trashed) {
		return false
	}
	if len(f.StreamIDs) > 0 && !slices.Contains(f.StreamIDs, e.StreamID) {
		return false
	}
	if f.FromTime != nil && e.Time < *f.FromTime {
		return false
	}
	if f.ToTime != nil && e.Time > *f.ToTime {
		return false
	}
	return true
}

// MatchesStream reports whether the stream is selected by the filter.
// Stream membership is by id; callers scoping a whole subtree are expected
// to expand it to explicit ids first (the registry's SubtreeIDs).
func (f *Filter) MatchesStream(s *Stream) bool {
	if f == nil {
		return true
	}
	if !f.matchesState(s.Trashed) {
		return false
	}
	if len(f.StreamIDs) > 0 && !slices.Contains(f.StreamIDs, s.ID) {
		return false
	}
	return true
}

func (f *Filter) matchesState(trashed bool) bool {
	switch f.state() {
	case StateTrashed:
		return trashed
	case StateAll:
		return true
	default:
		return !trashed
	}
}

// NarrowsStreams reports whether a stream listing selected by f can omit
// streams a full listing would return. Only the result of a listing that
// narrows nothing is safe to treat as the complete stream set. Among the
// states only "trashed" narrows: the default live view is the canonical
// listing, and "all" is a superset of it.
func (f *Filter) NarrowsStreams() bool {
	if f == nil {
		return false
	}
	return len(f.StreamIDs) > 0 || f.FromTime != nil || f.ToTime != nil ||
		f.Limit > 0 || f.state() == StateTrashed
}

// IncludedIn reports whether everything the receiver selects is covered by
// scope. A nil scope covers everything; a nil receiver (select everything)
// is only covered by an unrestricted scope. Used to decide whether the
// cache can serve a read.
func (f *Filter) IncludedIn(scope *Filter) bool {
	if scope == nil {
		return true
	}
	if f == nil {
		return scope.unrestricted()
	}
	if len(scope.StreamIDs) > 0 {
		if len(f.StreamIDs) == 0 {
			return false
		}
		for _, id := range f.StreamIDs {
			if !slices.Contains(scope.StreamIDs, id) {
				return false
			}
		}
	}
	if scope.FromTime != nil && (f.FromTime == nil || *f.FromTime < *scope.FromTime) {
		return false
	}
	if scope.ToTime != nil && (f.ToTime == nil || *f.ToTime > *scope.ToTime) {
		return false
	}
	return true
}

func (f *Filter) unrestricted() bool {
	return len(f.StreamIDs) == 0 && f.FromTime == nil && f.ToTime == nil
}

// CoversEvent is the cache-eligibility predicate: stream membership and
// time range only. State is deliberately ignored so trashed copies remain
// mirrored until permanently deleted.
func (f *Filter) CoversEvent(e *Event) bool {
	if f == nil {
		return true
	}
	if len(f.StreamIDs) > 0 && !slices.Contains(f.StreamIDs, e.StreamID) {
		return false
	}
	if f.FromTime != nil && e.Time < *f.FromTime {
		return false
	}
	if f.ToTime != nil && e.Time > *f.ToTime {
		return false
	}
	return true
}

// CoversStream is the cache-eligibility predicate for streams.
func (f *Filter) CoversStream(s *Stream) bool {
	if f == nil {
		return true
	}
	return len(f.StreamIDs) == 0 || slices.Contains(f.StreamIDs, s.ID)
}

// ToQuery renders the filter as request query parameters.
func (f *Filter) ToQuery() url.Values {
	q := url.Values{}
	if f == nil {
		return q
	}
	for _, id := range f.StreamIDs {
		q.Add("streams[]", id)
	}
	if f.FromTime != nil {
		q.Set("fromTime", formatSeconds(*f.FromTime))
	}
	if f.ToTime != nil {
		q.Set("toTime", formatSeconds(*f.ToTime))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.State != "" && f.State != StateDefault {
		q.Set("state", f.State)
	}
	return q
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

func (f *Filter) String() string {
	if f == nil {
		return "filter(all)"
	}
	return fmt.Sprintf("filter(streams=%v from=%s to=%s state=%s)",
		f.StreamIDs, formatBound(f.FromTime), formatBound(f.ToTime), f.state())
}

func formatBound(v *float64) string {
	if v == nil {
		return "unbounded"
	}
	return formatSeconds(*v)
}

// Scope is the shared, mutable cache-scope holder. The connection, the
// cache handle and both accessors hold the same *Scope; a Set is visible
// to every holder before it returns.
type Scope struct {
	mu sync.RWMutex
	f  *Filter
}

func NewScope() *Scope { return &Scope{} }

// Set replaces the scope filter. nil means unrestricted.
func (s *Scope) Set(f *Filter) {
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()
}

// Filter returns the current scope filter; nil means unrestricted.
func (s *Scope) Filter() *Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.f
}

// Covers reports whether a read selected by f can be fully served from a
// cache restricted to this scope.
func (s *Scope) Covers(f *Filter) bool {
	return f.IncludedIn(s.Filter())
}

// AllowsEvent reports whether the event is eligible for caching.
func (s *Scope) AllowsEvent(e *Event) bool {
	return s.Filter().CoversEvent(e)
}

// AllowsStream reports whether the stream is eligible for caching.
func (s *Scope) AllowsStream(st *Stream) bool {
	return s.Filter().CoversStream(st)
}
