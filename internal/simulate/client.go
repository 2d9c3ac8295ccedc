package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/roster"
)

// Client talks to the feedtrace HTTP API.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a client with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type batchBody struct {
	BatchID string        `json:"batch_id"`
	Events  []event.Event `json:"events"`
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// OpenSession opens a server-side session.
func (c *Client) OpenSession(ctx context.Context, req service.OpenRequest) (service.SessionInfo, error) { //nolint:gocritic // hugeParam
	var info service.SessionInfo
	if err := c.call(ctx, http.MethodPost, "/sessions", req, http.StatusCreated, &info); err != nil {
		return service.SessionInfo{}, err
	}
	return info, nil
}

// PostBatch uploads events under batchID. It returns the HTTP status so
// callers can tell backpressure from failure.
func (c *Client) PostBatch(ctx context.Context, sessionID, batchID string, events []event.Event) (service.Ack, int, error) {
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/events", batchBody{BatchID: batchID, Events: events})
	if err != nil {
		return service.Ack{}, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.Ack{}, resp.StatusCode, fmt.Errorf("read batch response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		var ack service.Ack
		if err := json.Unmarshal(body, &ack); err != nil {
			return service.Ack{}, resp.StatusCode, fmt.Errorf("decode ack: %w", err)
		}
		return ack, resp.StatusCode, nil
	}
	return service.Ack{}, resp.StatusCode, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(body))
}

// PostBeacon sends a page-hide flush the way navigator.sendBeacon would:
// a text/plain body whose response nobody reads.
func (c *Client) PostBeacon(ctx context.Context, sessionID string, events []event.Event) error {
	raw, err := json.Marshal(batchBody{BatchID: uuid.NewString(), Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal beacon: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sessions/"+url.PathEscape(sessionID)+"/beacon", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Summary fetches the roster summary of a feed.
func (c *Client) Summary(ctx context.Context, projectID, feedID string) (roster.Summary, error) {
	var sum roster.Summary
	path := "/projects/" + url.PathEscape(projectID) + "/feeds/" + url.PathEscape(feedID) + "/summary"
	if err := c.call(ctx, http.MethodGet, path, nil, http.StatusOK, &sum); err != nil {
		return roster.Summary{}, err
	}
	return sum, nil
}

func (c *Client) call(ctx context.Context, method, path string, in any, want int, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}
