package api

import "github.com/driftline/driftline/internal/domain"

// meta rides on every response, error responses included. ServerTime is a
// pointer so an absent field stays distinguishable from zero.
type meta struct {
	APIVersion string   `json:"apiVersion,omitempty"`
	ServerTime *float64 `json:"serverTime,omitempty"`
}

type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// deletion is the body of a permanent-delete acknowledgement.
type deletion struct {
	ID      string   `json:"id"`
	Deleted *float64 `json:"deleted,omitempty"`
}

// envelope is the one response shape: a meta block plus whichever payload
// field the operation produces.
type envelope struct {
	Meta  *meta     `json:"meta,omitempty"`
	Error *apiError `json:"error,omitempty"`

	Event  *domain.Event  `json:"event,omitempty"`
	Events []domain.Event `json:"events,omitempty"`

	Stream  *domain.Stream  `json:"stream,omitempty"`
	Streams []domain.Stream `json:"streams,omitempty"`

	EventDeletion  *deletion `json:"eventDeletion,omitempty"`
	StreamDeletion *deletion `json:"streamDeletion,omitempty"`
}
