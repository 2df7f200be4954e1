package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesEvent(t *testing.T) {
	live := &Event{ID: "e1", StreamID: "a", Time: 50}
	trashed := &Event{ID: "e2", StreamID: "a", Time: 60, Trashed: true}

	var nilFilter *Filter
	assert.True(t, nilFilter.MatchesEvent(live), "nil filter selects everything")

	assert.True(t, (&Filter{}).MatchesEvent(live))
	assert.False(t, (&Filter{}).MatchesEvent(trashed), "default state hides trashed")
	assert.True(t, (&Filter{State: StateTrashed}).MatchesEvent(trashed))
	assert.False(t, (&Filter{State: StateTrashed}).MatchesEvent(live))
	assert.True(t, (&Filter{State: StateAll}).MatchesEvent(trashed))

	assert.True(t, (&Filter{StreamIDs: []string{"a", "b"}}).MatchesEvent(live))
	assert.False(t, (&Filter{StreamIDs: []string{"b"}}).MatchesEvent(live))

	assert.True(t, (&Filter{FromTime: Time(50), ToTime: Time(50)}).MatchesEvent(live), "bounds are inclusive")
	assert.False(t, (&Filter{FromTime: Time(51)}).MatchesEvent(live))
	assert.False(t, (&Filter{ToTime: Time(49)}).MatchesEvent(live))
}

func TestMatchesStream(t *testing.T) {
	s := &Stream{ID: "a"}
	assert.True(t, (&Filter{}).MatchesStream(s))
	assert.False(t, (&Filter{StreamIDs: []string{"b"}}).MatchesStream(s))
	assert.False(t, (&Filter{}).MatchesStream(&Stream{ID: "t", Trashed: true}))
	assert.True(t, (&Filter{State: StateAll}).MatchesStream(&Stream{ID: "t", Trashed: true}))
}

func TestNarrowsStreams(t *testing.T) {
	var nilFilter *Filter
	assert.False(t, nilFilter.NarrowsStreams())
	assert.False(t, (&Filter{}).NarrowsStreams())
	assert.False(t, (&Filter{State: StateDefault}).NarrowsStreams())
	assert.False(t, (&Filter{State: StateAll}).NarrowsStreams(), `"all" is a superset of the live view`)

	assert.True(t, (&Filter{StreamIDs: []string{"a"}}).NarrowsStreams())
	assert.True(t, (&Filter{FromTime: Time(1)}).NarrowsStreams())
	assert.True(t, (&Filter{ToTime: Time(9)}).NarrowsStreams())
	assert.True(t, (&Filter{Limit: 5}).NarrowsStreams())
	assert.True(t, (&Filter{State: StateTrashed}).NarrowsStreams())
}

func TestIncludedIn(t *testing.T) {
	t.Run("nil scope covers everything", func(t *testing.T) {
		assert.True(t, (&Filter{StreamIDs: []string{"a"}}).IncludedIn(nil))
		var f *Filter
		assert.True(t, f.IncludedIn(nil))
	})

	t.Run("unbounded filter needs unbounded scope", func(t *testing.T) {
		var f *Filter
		assert.True(t, f.IncludedIn(&Filter{}))
		assert.False(t, f.IncludedIn(&Filter{StreamIDs: []string{"a"}}))
		assert.False(t, f.IncludedIn(&Filter{FromTime: Time(0)}))
	})

	t.Run("stream subset", func(t *testing.T) {
		scope := &Filter{StreamIDs: []string{"a", "b"}}
		assert.True(t, (&Filter{StreamIDs: []string{"a"}}).IncludedIn(scope))
		assert.True(t, (&Filter{StreamIDs: []string{"b", "a"}}).IncludedIn(scope))
		assert.False(t, (&Filter{StreamIDs: []string{"a", "c"}}).IncludedIn(scope))
		assert.False(t, (&Filter{}).IncludedIn(scope), "any-stream is wider than the scope")
	})

	t.Run("time range nesting", func(t *testing.T) {
		scope := &Filter{FromTime: Time(10), ToTime: Time(100)}
		assert.True(t, (&Filter{FromTime: Time(10), ToTime: Time(100)}).IncludedIn(scope))
		assert.True(t, (&Filter{FromTime: Time(20), ToTime: Time(90)}).IncludedIn(scope))
		assert.False(t, (&Filter{FromTime: Time(5), ToTime: Time(90)}).IncludedIn(scope))
		assert.False(t, (&Filter{FromTime: Time(20)}).IncludedIn(scope), "open upper bound exceeds the scope")
	})

	t.Run("state does not affect coverage", func(t *testing.T) {
		scope := &Filter{StreamIDs: []string{"a"}}
		assert.True(t, (&Filter{StreamIDs: []string{"a"}, State: StateTrashed}).IncludedIn(scope))
		assert.True(t, (&Filter{StreamIDs: []string{"a"}, State: StateAll}).IncludedIn(scope))
	})
}

func TestCoversIgnoresState(t *testing.T) {
	scope := &Filter{StreamIDs: []string{"a"}}
	trashed := &Event{ID: "e", StreamID: "a", Trashed: true}

	assert.False(t, scope.MatchesEvent(trashed))
	assert.True(t, scope.CoversEvent(trashed), "trashed copies stay cache-eligible")
	assert.True(t, scope.CoversStream(&Stream{ID: "a", Trashed: true}))
	assert.False(t, scope.CoversEvent(&Event{ID: "e", StreamID: "b"}))
}

func TestScopeHolder(t *testing.T) {
	s := NewScope()
	assert.True(t, s.Covers(&Filter{StreamIDs: []string{"x"}}), "empty scope is unrestricted")

	s.Set(&Filter{StreamIDs: []string{"a"}})
	assert.True(t, s.Covers(&Filter{StreamIDs: []string{"a"}}))
	assert.False(t, s.Covers(&Filter{StreamIDs: []string{"x"}}))
	assert.True(t, s.AllowsEvent(&Event{StreamID: "a", Trashed: true}))
	assert.False(t, s.AllowsEvent(&Event{StreamID: "x"}))

	s.Set(nil)
	assert.True(t, s.Covers(nil))
}

func TestToQuery(t *testing.T) {
	var nilFilter *Filter
	assert.Empty(t, nilFilter.ToQuery())

	q := (&Filter{
		StreamIDs: []string{"a", "b"},
		FromTime:  Time(100.5),
		ToTime:    Time(200),
		Limit:     20,
		State:     StateAll,
	}).ToQuery()

	assert.Equal(t, []string{"a", "b"}, q["streams[]"])
	assert.Equal(t, "100.5", q.Get("fromTime"))
	assert.Equal(t, "200", q.Get("toTime"))
	assert.Equal(t, "20", q.Get("limit"))
	assert.Equal(t, "all", q.Get("state"))

	require.Empty(t, (&Filter{State: StateDefault}).ToQuery().Get("state"), "default state is implicit on the wire")
}
