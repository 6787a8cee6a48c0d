// Package client is the producer-side HTTP client of the relay: session
// creation, tool-call enqueue and response retrieval by correlation id.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	afsurl "github.com/viant/afs/url"
	"github.com/viant/toolrelay"
)

// ErrNotReady indicates no response with the requested id is stored yet.
var ErrNotReady = errors.New("response not ready")

// Session describes a created relay session.
type Session struct {
	Code      string    `json:"code"`
	TTL       int       `json:"ttl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Client talks to the relay's producer surface.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// New creates a Client for the given relay base URL.
func New(baseURL string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("relay base URL is required")
	}
	schema := afsurl.Scheme(baseURL, "http")
	host := afsurl.Host(baseURL)
	if host == "" {
		return nil, fmt.Errorf("relay base URL has no host: %q", baseURL)
	}
	ret := &Client{
		baseURL: fmt.Sprintf("%s://%s", schema, host),
		client:  &http.Client{},
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret, nil
}

// CreateSession allocates a new relay session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	session := &Session{}
	if err := c.do(req, http.StatusCreated, session); err != nil {
		return nil, err
	}
	return session, nil
}

// PostRequest enqueues a tool call and returns its correlation id. When
// request.Id is empty a random id is assigned.
func (c *Client) PostRequest(ctx context.Context, request *toolrelay.Request) (string, error) {
	if request.Id == "" {
		request.Id = uuid.New().String()
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/request", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, http.StatusAccepted, nil); err != nil {
		return "", err
	}
	return request.Id, nil
}

// FetchResponse retrieves (and consumes) the response with the given id.
// ErrNotReady is returned when it has not been posted yet.
func (c *Client) FetchResponse(ctx context.Context, code, id string) (*toolrelay.Response, error) {
	query := url.Values{}
	query.Set("code", code)
	query.Set("id", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/response?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, ErrNotReady
	case http.StatusOK:
		response := &toolrelay.Response{}
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return nil, err
		}
		return response, nil
	default:
		return nil, asWireError(resp)
	}
}

// WaitResponse polls FetchResponse at the given interval until the response
// arrives or ctx expires.
func (c *Client) WaitResponse(ctx context.Context, code, id string, interval time.Duration) (*toolrelay.Response, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		response, err := c.FetchResponse(ctx, code, id)
		if err == nil {
			return response, nil
		}
		if !errors.Is(err, ErrNotReady) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(req *http.Request, expected int, target interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		return asWireError(resp)
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func asWireError(resp *http.Response) error {
	wireErr := &toolrelay.Error{}
	if err := json.NewDecoder(resp.Body).Decode(wireErr); err != nil || wireErr.Kind == "" {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return wireErr
}
