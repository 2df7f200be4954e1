package domain

// Stream is a node in the hierarchical organization of events.
// The flat registry owns Stream values; Children is derived by the tree
// rebuild and must be treated as invalidated whenever the flat registry
// changes.
type Stream struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID string  `json:"parentId,omitempty"` // empty = root
	Trashed  bool    `json:"trashed,omitempty"`
	Deleted  bool    `json:"deleted,omitempty"`
	Created  float64 `json:"created,omitempty"`  // seconds since epoch, server clock
	Modified float64 `json:"modified,omitempty"` // seconds since epoch, server clock

	// Children is rebuilt from parent ids by the tree builder; it is a
	// cache of the tree structure, never authoritative.
	Children []*Stream `json:"children,omitempty"`
}

// ClearChildren drops the derived child list.
func (s *Stream) ClearChildren() {
	s.Children = nil
}

// AddChild appends a child to the derived child list.
func (s *Stream) AddChild(child *Stream) {
	s.Children = append(s.Children, child)
}

// Event is a time-stamped data record attached to a stream.
type Event struct {
	ID       string   `json:"id"`
	StreamID string   `json:"streamId"`
	Type     string   `json:"type,omitempty"` // e.g. "note/txt", "mass/kg"
	Content  any      `json:"content,omitempty"`
	Time     float64  `json:"time,omitempty"` // seconds since epoch, server clock
	Tags     []string `json:"tags,omitempty"`
	Trashed  bool     `json:"trashed,omitempty"`
	Deleted  bool     `json:"deleted,omitempty"`
	Created  float64  `json:"created,omitempty"`
	Modified float64  `json:"modified,omitempty"`
}
