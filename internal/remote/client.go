// Package remote is the HTTP client for the authoritative source of
// restaurants and reviews.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/pantry/internal/types"
)

// IdempotencyHeader carries the key that lets the remote recognise a
// replayed write.
const IdempotencyHeader = "Idempotency-Key"

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// Client talks to the remote source over JSON/HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for baseURL. A zero timeout falls back to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP creates a Client that sends requests through hc.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

// BaseURL returns the configured remote address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListEntities fetches every restaurant.
func (c *Client) ListEntities(ctx context.Context) ([]types.Entity, error) {
	var entities []types.Entity
	if err := c.do(ctx, http.MethodGet, "/restaurants", nil, "", nil, &entities); err != nil {
		return nil, err
	}
	for _, e := range entities {
		if e.ID <= 0 {
			return nil, fmt.Errorf("%w: restaurant without id", ErrMalformedResponse)
		}
	}
	return entities, nil
}

// GetEntity fetches one restaurant.
func (c *Client) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	var e types.Entity
	if err := c.do(ctx, http.MethodGet, "/restaurants/"+strconv.FormatInt(id, 10), nil, "", nil, &e); err != nil {
		return nil, err
	}
	if e.ID != id {
		return nil, fmt.Errorf("%w: asked for restaurant %d, got %d", ErrMalformedResponse, id, e.ID)
	}
	return &e, nil
}

// ListComments fetches the reviews of one restaurant.
func (c *Client) ListComments(ctx context.Context, entityID int64) ([]types.Comment, error) {
	q := url.Values{"restaurant_id": {strconv.FormatInt(entityID, 10)}}
	var comments []types.Comment
	if err := c.do(ctx, http.MethodGet, "/reviews/", q, "", nil, &comments); err != nil {
		return nil, err
	}
	for _, cm := range comments {
		if cm.ID <= 0 {
			return nil, fmt.Errorf("%w: review without id", ErrMalformedResponse)
		}
	}
	return comments, nil
}

// CreateComment submits a review payload as-is and returns the stored review.
func (c *Client) CreateComment(ctx context.Context, idempotencyKey string, payload json.RawMessage) (*types.Comment, error) {
	var cm types.Comment
	if err := c.do(ctx, http.MethodPost, "/reviews/", nil, idempotencyKey, payload, &cm); err != nil {
		return nil, err
	}
	if cm.ID <= 0 {
		return nil, fmt.Errorf("%w: created review without id", ErrMalformedResponse)
	}
	return &cm, nil
}

// SetFavorite sets the favorite flag of a restaurant and returns it.
func (c *Client) SetFavorite(ctx context.Context, idempotencyKey string, id int64, favorite bool) (*types.Entity, error) {
	q := url.Values{"is_favorite": {strconv.FormatBool(favorite)}}
	var e types.Entity
	path := "/restaurants/" + strconv.FormatInt(id, 10) + "/"
	if err := c.do(ctx, http.MethodPut, path, q, idempotencyKey, nil, &e); err != nil {
		return nil, err
	}
	if e.ID != id {
		return nil, fmt.Errorf("%w: updated restaurant %d, got %d", ErrMalformedResponse, id, e.ID)
	}
	return &e, nil
}

// Health checks connectivity to the remote.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var h types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// do sends one request and decodes a 2xx JSON body into out. Transport
// failures and non-2xx statuses wrap ErrUnavailable; undecodable bodies wrap
// ErrMalformedResponse.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, idempotencyKey string, body json.RawMessage, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: remote URL not configured", ErrUnavailable)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path,
			&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: %s %s: empty body", ErrMalformedResponse, method, path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrMalformedResponse, method, path, err)
	}
	return nil
}
