// Package api implements the HTTP client for the remote event store.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/driftline/driftline/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Driftline/1.0"
)

// TimeObserver receives the server clock reading carried by every
// response. A nil pointer means the response carried none.
type TimeObserver interface {
	Observe(serverTime *float64)
}

// Client implements domain.API against the JSON endpoint. Base URL and
// token are fixed at construction; a new credential means a new Client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	observer   TimeObserver
	logger     *slog.Logger
}

// NewClient creates an API client. observer may be nil when nobody tracks
// the server clock.
func NewClient(baseURL, token string, observer TimeObserver, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: trimSlash(baseURL),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		observer: observer,
		logger:   logger,
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// doRequest performs an authenticated round trip and decodes the response
// envelope. The server clock reading is observed on every decodable
// response, error responses included.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, payload any) (*envelope, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, query.Encode())
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &domain.RemoteError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, &domain.RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request", "method", method, "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("api request failed", "op", op, "error", err)
		return nil, &domain.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Error("api response parse error", "op", op, "status", resp.StatusCode, "bodyLen", len(raw))
			return nil, &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
		}
	}
	if c.observer != nil && env.Meta != nil {
		c.observer.Observe(env.Meta.ServerTime)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: domain.ErrAuthFailed}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: domain.ErrNotFound}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		cause := errors.New("unexpected status")
		if env.Error != nil {
			cause = fmt.Errorf("%s: %s", env.Error.ID, env.Error.Message)
		}
		c.logger.Error("api request error", "op", op, "status", resp.StatusCode, "body", string(raw))
		return nil, &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: cause}
	}
	return &env, nil
}

// === Events ===

func (c *Client) GetEvents(ctx context.Context, f *domain.Filter) ([]domain.Event, error) {
	env, err := c.doRequest(ctx, "get events", http.MethodGet, "/events", f.ToQuery(), nil)
	if err != nil {
		return nil, err
	}
	return env.Events, nil
}

func (c *Client) CreateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	env, err := c.doRequest(ctx, "create event", http.MethodPost, "/events", nil, e)
	if err != nil {
		return domain.Event{}, err
	}
	if env.Event == nil {
		return domain.Event{}, &domain.RemoteError{Op: "create event", Err: errors.New("response carries no event")}
	}
	return *env.Event, nil
}

func (c *Client) UpdateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	env, err := c.doRequest(ctx, "update event", http.MethodPut, "/events/"+url.PathEscape(e.ID), nil, e)
	if err != nil {
		return domain.Event{}, err
	}
	if env.Event == nil {
		return domain.Event{}, &domain.RemoteError{Op: "update event", Err: errors.New("response carries no event")}
	}
	return *env.Event, nil
}

// DeleteEvent trashes a live event; deleting an already trashed event is
// permanent and acknowledged with a deletion record instead of the event.
func (c *Client) DeleteEvent(ctx context.Context, id string) (domain.Event, error) {
	env, err := c.doRequest(ctx, "delete event", http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return domain.Event{}, err
	}
	switch {
	case env.Event != nil:
		return *env.Event, nil
	case env.EventDeletion != nil:
		return domain.Event{ID: env.EventDeletion.ID, Deleted: true}, nil
	}
	return domain.Event{}, &domain.RemoteError{Op: "delete event", Err: errors.New("response carries neither event nor deletion")}
}

// === Streams ===

func (c *Client) GetStreams(ctx context.Context, f *domain.Filter) ([]domain.Stream, error) {
	env, err := c.doRequest(ctx, "get streams", http.MethodGet, "/streams", f.ToQuery(), nil)
	if err != nil {
		return nil, err
	}
	return env.Streams, nil
}

func (c *Client) CreateStream(ctx context.Context, s domain.Stream) (domain.Stream, error) {
	env, err := c.doRequest(ctx, "create stream", http.MethodPost, "/streams", nil, s)
	if err != nil {
		return domain.Stream{}, err
	}
	if env.Stream == nil {
		return domain.Stream{}, &domain.RemoteError{Op: "create stream", Err: errors.New("response carries no stream")}
	}
	return *env.Stream, nil
}

func (c *Client) UpdateStream(ctx context.Context, s domain.Stream) (domain.Stream, error) {
	env, err := c.doRequest(ctx, "update stream", http.MethodPut, "/streams/"+url.PathEscape(s.ID), nil, s)
	if err != nil {
		return domain.Stream{}, err
	}
	if env.Stream == nil {
		return domain.Stream{}, &domain.RemoteError{Op: "update stream", Err: errors.New("response carries no stream")}
	}
	return *env.Stream, nil
}

func (c *Client) DeleteStream(ctx context.Context, id string) (domain.Stream, error) {
	env, err := c.doRequest(ctx, "delete stream", http.MethodDelete, "/streams/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return domain.Stream{}, err
	}
	switch {
	case env.Stream != nil:
		return *env.Stream, nil
	case env.StreamDeletion != nil:
		return domain.Stream{ID: env.StreamDeletion.ID, Deleted: true}, nil
	}
	return domain.Stream{}, &domain.RemoteError{Op: "delete stream", Err: errors.New("response carries neither stream nor deletion")}
}
