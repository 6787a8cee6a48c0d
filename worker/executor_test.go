package worker

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/toolrelay"
)

func newTestExecutor(t *testing.T, registry *Registry, timeout time.Duration) (chan *toolrelay.Request, chan *toolrelay.Response, func()) {
	t.Helper()
	requests := make(chan *toolrelay.Request, 16)
	responses := make(chan *toolrelay.Response, 16)
	config := &Config{InvocationTimeout: timeout}
	sup := newSupervisor(zerolog.Nop(), defaultCriticalThreshold)
	exec := newExecutor(config, registry, requests, responses, sup, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return requests, responses, cancel
}

func awaitResponse(t *testing.T, responses <-chan *toolrelay.Response) *toolrelay.Response {
	t.Helper()
	select {
	case response := <-responses:
		return response
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for executor response")
		return nil
	}
}

func responseText(response *toolrelay.Response) string {
	if len(response.Result.Content) == 0 {
		return ""
	}
	return response.Result.Content[0].Text
}

func TestExecutorSuccess(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		text, _ := args["text"].(string)
		result := toolrelay.NewTextResult(text)
		return &result, nil
	}))
	requests, responses, _ := newTestExecutor(t, registry, time.Second)

	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "echo", Args: map[string]interface{}{"text": "hi"}}
	response := awaitResponse(t, responses)
	assert.Equal(t, "r1", response.Id)
	assert.Equal(t, "ABCDEF23", response.Code)
	assert.Equal(t, "hi", responseText(response))
}

func TestExecutorUnknownTool(t *testing.T) {
	requests, responses, _ := newTestExecutor(t, NewRegistry(), time.Second)
	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "missing"}
	response := awaitResponse(t, responses)
	assert.Equal(t, "r1", response.Id, "failure keeps the correlation id")
	assert.Contains(t, responseText(response), ExecErrorToolNotFound)
}

func TestExecutorInvalidArgs(t *testing.T) {
	registry := NewRegistry()
	schema := []byte(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
	require.NoError(t, registry.Register("echo", schema, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		t.Error("handler must not run on invalid args")
		return nil, nil
	}))
	requests, responses, _ := newTestExecutor(t, registry, time.Second)

	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "echo", Args: map[string]interface{}{"text": 7}}
	response := awaitResponse(t, responses)
	assert.Contains(t, responseText(response), ExecErrorInvalidArgs)
}

func TestExecutorToolError(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("fail", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		return nil, fmt.Errorf("backend exploded")
	}))
	requests, responses, _ := newTestExecutor(t, registry, time.Second)

	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "fail"}
	response := awaitResponse(t, responses)
	text := responseText(response)
	assert.Contains(t, text, ExecErrorExecution)
	assert.Contains(t, text, "backend exploded")
}

func TestExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	registry := NewRegistry()
	require.NoError(t, registry.Register("slow", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		<-release
		result := toolrelay.NewTextResult("late")
		return &result, nil
	}))
	requests, responses, _ := newTestExecutor(t, registry, 50*time.Millisecond)

	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "slow"}
	go func() {
		time.Sleep(150 * time.Millisecond)
		close(release)
	}()
	response := awaitResponse(t, responses)
	assert.Equal(t, "r1", response.Id)
	assert.True(t, strings.Contains(responseText(response), "timeout"), "got %q", responseText(response))
}

func TestExecutorStrictlySequential(t *testing.T) {
	var inFlight, peak int32
	registry := NewRegistry()
	require.NoError(t, registry.Register("count", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		current := atomic.AddInt32(&inFlight, 1)
		if current > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, current)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		result := toolrelay.NewTextResult("done")
		return &result, nil
	}))
	requests, responses, _ := newTestExecutor(t, registry, time.Second)

	ids := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, id := range ids {
		requests <- &toolrelay.Request{Code: "ABCDEF23", Id: id, Tool: "count"}
	}
	var got []string
	for range ids {
		got = append(got, awaitResponse(t, responses).Id)
	}
	assert.Equal(t, ids, got, "responses come back in intake order")
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak), "never more than one invocation in flight")
}

func TestExecutorShutdownIsNotATimeout(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("wait", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	config := &Config{InvocationTimeout: 10 * time.Second}
	sup := newSupervisor(zerolog.Nop(), defaultCriticalThreshold)
	exec := newExecutor(config, registry, nil, nil, sup, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	response := exec.execute(ctx, &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "wait"})
	assert.Equal(t, "r1", response.Id)
	assert.NotContains(t, responseText(response), "timeout after",
		"cancellation during shutdown must not be reported as a tool timeout")
}

func TestExecutorWaitsForAbandonedInvocation(t *testing.T) {
	var slowDone, fastStarted atomic.Int64
	release := make(chan struct{})
	registry := NewRegistry()
	require.NoError(t, registry.Register("slow", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		<-release
		slowDone.Store(time.Now().UnixNano())
		result := toolrelay.NewTextResult("late")
		return &result, nil
	}))
	require.NoError(t, registry.Register("fast", nil, func(ctx context.Context, args map[string]interface{}) (*toolrelay.Result, error) {
		fastStarted.Store(time.Now().UnixNano())
		result := toolrelay.NewTextResult("quick")
		return &result, nil
	}))
	requests, responses, _ := newTestExecutor(t, registry, 30*time.Millisecond)

	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r1", Tool: "slow"}
	requests <- &toolrelay.Request{Code: "ABCDEF23", Id: "r2", Tool: "fast"}
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(release)
	}()

	first := awaitResponse(t, responses)
	second := awaitResponse(t, responses)
	assert.Equal(t, "r1", first.Id)
	assert.Equal(t, "r2", second.Id)
	assert.Greater(t, fastStarted.Load(), slowDone.Load(),
		"the next invocation starts only after the abandoned one returned")
}
