package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/domain"
)

func indexed() *StreamIndex {
	idx := NewStreamIndex()
	idx.Reindex([]domain.Stream{
		{ID: "s1", Name: "Journal"},
		{ID: "s2", Name: "Workouts"},
		{ID: "s3", Name: "Work"},
		{ID: "s4", Name: "Heart Rate"},
	})
	return idx
}

func names(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Stream.Name
	}
	return out
}

func TestFindSubsequence(t *testing.T) {
	idx := indexed()

	got := names(idx.Find("wrk"))
	assert.Contains(t, got, "Work")
	assert.Contains(t, got, "Workouts")
	assert.NotContains(t, got, "Journal")

	exact := idx.Find("work")
	require.Len(t, exact, 2)
	assert.ElementsMatch(t, []string{"Work", "Workouts"}, names(exact))
}

func TestFindIsCaseInsensitive(t *testing.T) {
	idx := indexed()
	got := idx.Find("JOURNAL")
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].Stream.ID)
	assert.Len(t, got[0].MatchedIndexes, len("journal"))
}

func TestFindEmptyQueries(t *testing.T) {
	idx := indexed()
	assert.Nil(t, idx.Find(""))
	assert.Nil(t, idx.Find("   "))
	assert.Empty(t, idx.Find("zzzz"))
}

func TestSuggestToleratesTypos(t *testing.T) {
	idx := indexed()

	got := idx.Suggest("jurnal")
	require.NotEmpty(t, got)
	assert.Equal(t, "Journal", got[0].Stream.Name)
	assert.Equal(t, 1, got[0].Score)

	// Too far from anything indexed.
	assert.Empty(t, idx.Suggest("nap"))
}

func TestLookupFallsBack(t *testing.T) {
	idx := indexed()

	direct := idx.Lookup("work")
	assert.ElementsMatch(t, []string{"Work", "Workouts"}, names(direct))

	// "wrok" is not a subsequence of "work", so Find yields nothing and
	// the edit-distance pass takes over.
	fallback := idx.Lookup("wrok")
	require.NotEmpty(t, fallback)
	assert.Equal(t, "Work", fallback[0].Stream.Name)

	assert.Empty(t, idx.Lookup("qqq"), "no matcher invents results")
}

func TestReindexReplaces(t *testing.T) {
	idx := indexed()
	idx.Reindex([]domain.Stream{{ID: "n1", Name: "Naps"}})

	assert.Empty(t, idx.Find("journal"))
	got := idx.Find("naps")
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].Stream.ID)
}
