package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/toolrelay"
)

// Execution failure kinds embedded in error responses.
const (
	ExecErrorToolNotFound = "tool_not_found"
	ExecErrorInvalidArgs  = "invalid_args"
	ExecErrorExecution    = "execution_error"
)

// executor runs tool invocations strictly one at a time in intake order,
// emitting a response envelope for every request, including failures.
type executor struct {
	registry *Registry
	in       <-chan *toolrelay.Request
	out      chan<- *toolrelay.Response
	timeout  time.Duration
	breaker  *Breaker
	sup      *Supervisor
	logger   zerolog.Logger
}

func newExecutor(config *Config, registry *Registry, in <-chan *toolrelay.Request,
	out chan<- *toolrelay.Response, sup *Supervisor, logger zerolog.Logger) *executor {
	return &executor{
		registry: registry,
		in:       in,
		out:      out,
		timeout:  config.InvocationTimeout,
		breaker:  NewBreaker(defaultBreakerThreshold, defaultBreakerWindow, defaultBreakerCooldown),
		sup:      sup,
		logger:   logger,
	}
}

func (e *executor) run(ctx context.Context) {
	defer e.sup.markStopped("executor")
	for {
		select {
		case <-ctx.Done():
			return
		case request := <-e.in:
			response := e.execute(ctx, request)
			select {
			case e.out <- response:
				e.sup.Progress("executor")
			case <-ctx.Done():
				return
			}
		}
	}
}

// execute produces the response for one request. Permanent failures are
// recorded inside the envelope, preserving the correlation id, and are never
// retried.
func (e *executor) execute(ctx context.Context, request *toolrelay.Request) *toolrelay.Response {
	tool, ok := e.registry.Lookup(request.Tool)
	if !ok {
		e.sup.ReportError("executor", CategoryPermanent, fmt.Errorf("unknown tool %q", request.Tool))
		return errorResponse(request, ExecErrorToolNotFound,
			fmt.Sprintf("tool %q is not registered", request.Tool))
	}
	if err := tool.ValidateArgs(request.Args); err != nil {
		e.sup.ReportError("executor", CategoryPermanent, err)
		return errorResponse(request, ExecErrorInvalidArgs, err.Error())
	}
	if !e.breaker.Allow() {
		e.logger.Warn().Str("tool", request.Tool).Msg("host API circuit open, short-circuiting")
		return errorResponse(request, ExecErrorExecution, "host tool API is unavailable")
	}

	invocationCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result *toolrelay.Result
		err    error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		result, err := tool.Invoke(invocationCtx, request.Args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			e.breaker.Record(false)
			e.sup.ReportError("executor", CategoryPermanent, o.err)
			return errorResponse(request, ExecErrorExecution, o.err.Error())
		}
		e.breaker.Record(true)
		e.sup.ReportSuccess(time.Since(started))
		result := toolrelay.Result{}
		if o.result != nil {
			result = *o.result
		}
		return &toolrelay.Response{Code: request.Code, Id: request.Id, Result: result}
	case <-invocationCtx.Done():
		if ctx.Err() != nil {
			// Worker shutdown, not the soft deadline; don't hold it against
			// the host API.
			<-done
			return errorResponse(request, ExecErrorExecution, "worker stopped before the tool completed")
		}
		// Soft deadline: the invocation is abandoned but the next one begins
		// only after this one returns, keeping execution strictly sequential.
		e.breaker.Record(false)
		e.sup.ReportError("executor", CategoryTransient,
			fmt.Errorf("tool %s timed out after %s", request.Tool, e.timeout))
		response := errorResponse(request, ExecErrorExecution,
			fmt.Sprintf("timeout after %s", e.timeout))
		<-done
		return response
	}
}

// errorResponse wraps a failure into the response content shape so producers
// can attribute it by id.
func errorResponse(request *toolrelay.Request, kind, message string) *toolrelay.Response {
	return &toolrelay.Response{
		Code:   request.Code,
		Id:     request.Id,
		Result: toolrelay.NewTextResult(fmt.Sprintf("tool execution failed (%s): %s", kind, message)),
	}
}
