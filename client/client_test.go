package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/toolrelay"
	"github.com/viant/toolrelay/kv"
	"github.com/viant/toolrelay/relay"
)

func newTestClient(t *testing.T, options ...relay.Option) (*Client, *httptest.Server) {
	t.Helper()
	handler := relay.New(kv.NewMemoryStore(), options...)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(server.URL)
	require.NoError(t, err)
	return c, server
}

// postResponse plays the worker's role: it stores a response envelope on the
// relay.
func postResponse(server *httptest.Server, response *toolrelay.Response) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	resp, err := http.Post(server.URL+"/response", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	c, _ := newTestClient(t)
	session, err := c.CreateSession(context.Background())
	require.NoError(t, err)
	assert.True(t, toolrelay.IsValidCode(session.Code))
	assert.Equal(t, 3600, session.TTL)
	assert.False(t, session.ExpiresAt.IsZero())
}

func TestPostRequestAssignsId(t *testing.T) {
	c, _ := newTestClient(t)
	session, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	id, err := c.PostRequest(context.Background(), &toolrelay.Request{
		Code: session.Code, Tool: "echo", Args: map[string]interface{}{"text": "hi"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	id, err = c.PostRequest(context.Background(), &toolrelay.Request{
		Code: session.Code, Id: "explicit", Tool: "echo",
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", id)
}

func TestPostRequestSurfacesWireError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.PostRequest(context.Background(), &toolrelay.Request{
		Code: "AAAAAAA2", Id: "r1", Tool: "echo",
	})
	require.Error(t, err)
	wireErr := &toolrelay.Error{}
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, toolrelay.ErrorSessionNotFound, wireErr.Kind)
}

func TestFetchResponseLifecycle(t *testing.T) {
	c, server := newTestClient(t)
	ctx := context.Background()
	session, err := c.CreateSession(ctx)
	require.NoError(t, err)

	_, err = c.FetchResponse(ctx, session.Code, "r1")
	assert.ErrorIs(t, err, ErrNotReady)

	// Simulate the worker posting a response.
	response := &toolrelay.Response{Code: session.Code, Id: "r1", Result: toolrelay.NewTextResult("done")}
	require.NoError(t, postResponse(server, response))

	got, err := c.FetchResponse(ctx, session.Code, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.Id)
	assert.Equal(t, "done", got.Result.Content[0].Text)

	_, err = c.FetchResponse(ctx, session.Code, "r1")
	assert.ErrorIs(t, err, ErrNotReady, "fetch consumes the response")
}

func TestWaitResponse(t *testing.T) {
	c, server := newTestClient(t)
	ctx := context.Background()
	session, err := c.CreateSession(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = postResponse(server, &toolrelay.Response{Code: session.Code, Id: "r1", Result: toolrelay.NewTextResult("late")})
	}()

	got, err := c.WaitResponse(ctx, session.Code, "r1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "late", got.Result.Content[0].Text)
}

func TestWaitResponseHonorsContext(t *testing.T) {
	c, _ := newTestClient(t)
	session, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.WaitResponse(ctx, session.Code, "never", 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
