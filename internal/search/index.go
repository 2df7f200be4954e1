// Package search provides fuzzy lookup of streams by name.
package search

import (
	"sort"
	"strings"
	"sync"

	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/driftline/driftline/internal/domain"
)

// Match is one search hit, best matches first in every result slice.
// Score is matcher-specific and only comparable within one slice.
type Match struct {
	Stream         domain.Stream
	Score          int
	MatchedIndexes []int // byte positions in the lowercase name, for highlighting
}

// StreamIndex is a point-in-time snapshot of streams searchable by name.
// It implements fuzzy.Source over pre-lowered names so repeated queries
// allocate nothing per candidate.
type StreamIndex struct {
	mu         sync.RWMutex
	streams    []domain.Stream
	lowerNames []string
}

func NewStreamIndex() *StreamIndex {
	return &StreamIndex{}
}

// String returns the lowercase name at index i (implements fuzzy.Source).
func (idx *StreamIndex) String(i int) string { return idx.lowerNames[i] }

// Len returns the number of indexed streams (implements fuzzy.Source).
func (idx *StreamIndex) Len() int { return len(idx.streams) }

// Reindex replaces the snapshot with the given streams.
func (idx *StreamIndex) Reindex(streams []domain.Stream) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.streams = make([]domain.Stream, len(streams))
	idx.lowerNames = make([]string, len(streams))
	for i, s := range streams {
		idx.streams[i] = s
		idx.lowerNames[i] = strings.ToLower(s.Name)
	}
}

// Find runs subsequence matching: every query rune must appear in order
// in the name ("wrk" finds "Workouts"). Results carry the matched rune
// positions for highlighting.
func (idx *StreamIndex) Find(query string) []Match {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := fuzzy.FindFrom(query, idx)
	out := make([]Match, len(matches))
	for i, m := range matches {
		out[i] = Match{
			Stream:         idx.streams[m.Index],
			Score:          m.Score,
			MatchedIndexes: m.MatchedIndexes,
		}
	}
	return out
}

// Suggest is the looser fallback for when Find comes up empty: names are
// ranked by edit distance with a tolerance scaled to the query length, so
// transposed or slightly wrong queries still land. No match positions are
// available at this level.
func (idx *StreamIndex) Suggest(query string) []Match {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Match
	for i, name := range idx.lowerNames {
		d := lfuzzy.LevenshteinDistance(query, name)
		if d <= maxDistance(query) {
			out = append(out, Match{Stream: idx.streams[i], Score: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Score < out[j].Score
	})
	return out
}

// maxDistance scales typo tolerance with query length.
func maxDistance(query string) int {
	switch n := len([]rune(query)); {
	case n <= 3:
		return 1
	case n <= 6:
		return 2
	default:
		return 3
	}
}

// Lookup combines both matchers: exact subsequence hits when they exist,
// edit-distance suggestions otherwise.
func (idx *StreamIndex) Lookup(query string) []Match {
	if matches := idx.Find(query); len(matches) > 0 {
		return matches
	}
	return idx.Suggest(query)
}
