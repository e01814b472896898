package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngyygm/temporal-memory-agent/common/logger"
)

// CallStatus is the outcome of one tool invocation.
type CallStatus string

const (
	StatusSuccess CallStatus = "success"
	StatusError   CallStatus = "error"
	StatusTimeout CallStatus = "timeout"
)

// Call is one requested tool invocation.
type Call struct {
	CallID     string
	ToolName   string
	Parameters map[string]any
}

// Result is the normalized outcome of a Call.
type Result struct {
	CallID          string
	ToolName        string
	Status          CallStatus
	Data            map[string]any
	ErrorMessage    string
	ExecutionTimeSec float64
}

// ToolExecutor is the orchestrator's view of an Executor: run a batch of
// calls, get back results in the same order. internal/cache.CachingExecutor
// implements this too, decorating an Executor with Redis memoization.
type ToolExecutor interface {
	Execute(ctx context.Context, calls []Call) []Result
}

// Executor runs Call batches against one Registry with bounded parallelism
// and per-call timeouts. It is pure transport: it never consults an LLM.
type Executor struct {
	registry *Registry
	parallel bool
	workers  int
	timeout  time.Duration
}

// NewExecutor constructs an Executor. workers<=0 defaults to 5; timeout<=0
// defaults to 30s.
func NewExecutor(registry *Registry, parallel bool, workers int, timeout time.Duration) *Executor {
	if workers <= 0 {
		workers = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{registry: registry, parallel: parallel, workers: workers, timeout: timeout}
}

// Execute runs calls and returns results in the same order as calls,
// regardless of completion order. Sequential unless parallel=true and
// len(calls)>1.
func (e *Executor) Execute(ctx context.Context, calls []Call) []Result {
	if len(calls) == 0 {
		return nil
	}
	if e.parallel && len(calls) > 1 {
		return e.executeParallel(ctx, calls)
	}
	results := make([]Result, len(calls))
	for i, c := range calls {
		results[i] = e.executeSingle(ctx, c)
	}
	return results
}

func (e *Executor) executeParallel(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, c := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c Call) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.executeSingle(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeSingle(ctx context.Context, c Call) Result {
	sc := logger.StartSpan(ctx, "tools.execute_call", trace.WithAttributes(
		attribute.String("tool.name", c.ToolName),
		attribute.String("tool.call_id", c.CallID),
	))
	defer sc.End()
	ctx = sc.Context()

	if !e.registry.Has(c.ToolName) {
		sc.RecordError(fmt.Errorf("tool not found: %s", c.ToolName))
		return Result{CallID: c.CallID, ToolName: c.ToolName, Status: StatusError, ErrorMessage: "tool not found"}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		data map[string]any
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		data, err := e.safeInvoke(callCtx, c.ToolName, c.Parameters)
		done <- outcome{data: data, err: err}
	}()

	select {
	case <-callCtx.Done():
		slog.WarnContext(ctx, "tool call timed out", "tool", c.ToolName, "call_id", c.CallID)
		sc.RecordError(fmt.Errorf("tool call timed out after %s", e.timeout))
		return Result{
			CallID:           c.CallID,
			ToolName:         c.ToolName,
			Status:           StatusTimeout,
			ErrorMessage:     "tool call timed out",
			ExecutionTimeSec: e.timeout.Seconds(),
		}
	case o := <-done:
		elapsed := time.Since(start).Seconds()
		if o.err != nil {
			sc.RecordError(o.err)
			return Result{CallID: c.CallID, ToolName: c.ToolName, Status: StatusError, ErrorMessage: o.err.Error(), ExecutionTimeSec: elapsed}
		}
		success := true
		if v, ok := o.data["success"]; ok {
			if b, ok := v.(bool); ok {
				success = b
			}
		}
		if !success {
			msg, _ := o.data["message"].(string)
			return Result{CallID: c.CallID, ToolName: c.ToolName, Status: StatusError, Data: o.data, ErrorMessage: msg, ExecutionTimeSec: elapsed}
		}
		return Result{CallID: c.CallID, ToolName: c.ToolName, Status: StatusSuccess, Data: o.data, ExecutionTimeSec: elapsed}
	}
}

// safeInvoke guards against a panicking tool implementation, turning it
// into an error result rather than crashing the executor goroutine.
func (e *Executor) safeInvoke(ctx context.Context, name string, params map[string]any) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return e.registry.Invoke(ctx, name, params)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "tool panicked: " + toString(p.v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}
