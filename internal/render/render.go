// Package render formats streams, events and search results for the
// terminal.
package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/driftline/driftline/internal/domain"
	"github.com/driftline/driftline/internal/search"
)

const timeLayout = "2006-01-02 15:04:05"

// Tree renders the stream hierarchy with box-drawing branches. Roots are
// ordered by name; children keep the order the tree builder produced.
func Tree(roots map[string]*domain.Stream) string {
	ordered := make([]*domain.Stream, 0, len(roots))
	for _, s := range roots {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].ID < ordered[j].ID
	})

	var b strings.Builder
	for _, root := range ordered {
		writeStream(&b, root, "", "")
	}
	return b.String()
}

func writeStream(b *strings.Builder, s *domain.Stream, branch, childPrefix string) {
	b.WriteString(BranchStyle.Render(branch))
	b.WriteString(NameStyle.Render(s.Name))
	b.WriteString(" ")
	b.WriteString(IDStyle.Render("(" + s.ID + ")"))
	if s.Trashed {
		b.WriteString(" ")
		b.WriteString(TrashedStyle.Render("[trashed]"))
	}
	b.WriteString("\n")

	for i, child := range s.Children {
		if i == len(s.Children)-1 {
			writeStream(b, child, childPrefix+"└── ", childPrefix+"    ")
		} else {
			writeStream(b, child, childPrefix+"├── ", childPrefix+"│   ")
		}
	}
}

// Events renders events one line each, in the order given.
func Events(events []domain.Event) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(DimStyle.Render(FormatTime(e.Time)))
		b.WriteString("  ")
		b.WriteString(AccentStyle.Render(e.StreamID))
		b.WriteString("  ")
		b.WriteString(NameStyle.Render(e.Type))
		if content := FormatContent(e.Content); content != "" {
			b.WriteString("  ")
			b.WriteString(NameStyle.Render(content))
		}
		if e.Trashed {
			b.WriteString(" ")
			b.WriteString(TrashedStyle.Render("[trashed]"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Matches renders search hits with the matched characters highlighted.
func Matches(matches []search.Match) string {
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(highlightName(m.Stream.Name, m.MatchedIndexes))
		b.WriteString(" ")
		b.WriteString(IDStyle.Render("(" + m.Stream.ID + ")"))
		b.WriteString("\n")
	}
	return b.String()
}

// highlightName styles the characters named by indexes. Indexes refer to
// the lowercased name the matcher ran on; when lowering changed the byte
// length the positions no longer line up and the name is printed plain.
func highlightName(name string, indexes []int) string {
	if len(indexes) == 0 || len(name) != len(strings.ToLower(name)) {
		return NameStyle.Render(name)
	}
	marked := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		marked[i] = true
	}
	var b strings.Builder
	for i, r := range name {
		if marked[i] {
			b.WriteString(AccentStyle.Render(string(r)))
		} else {
			b.WriteString(NameStyle.Render(string(r)))
		}
	}
	return b.String()
}

// Success prefixes a line with a green check mark.
func Success(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

// Fail prefixes a line with a red cross.
func Fail(format string, a ...any) string {
	return ErrorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

// FormatTime formats a server timestamp for display in the local zone.
func FormatTime(seconds float64) string {
	if seconds == 0 {
		return strings.Repeat("-", len(timeLayout))
	}
	return time.UnixMilli(int64(seconds * 1000)).Format(timeLayout)
}

// FormatContent flattens an event payload to a single display string.
func FormatContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
