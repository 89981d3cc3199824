// Package invoker implements the tool invocation flow: lookup, input
// validation, trace root, cooperative-cancellation execution with a
// timeout+grace force-terminate, output validation, trace close, and a
// result envelope.
//
// Grounded on the teacher's middleware pipeline (pkg/mcp/server/middleware.go)
// for the timeout-via-goroutine-and-select pattern and panic recovery, and on
// internal/retry for the transient-failure backoff.
package invoker

import (
	"context"
	"time"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
	"toolmesh/internal/logging"
	"toolmesh/internal/registry"
	"toolmesh/internal/retry"
	"toolmesh/internal/trace"
	"toolmesh/internal/validation"
)

const forceTerminateGrace = 500 * time.Millisecond

// Sink receives every trace this invoker closes, handing ownership to the
// analytics pipeline.
type Sink interface {
	Ingest(doc trace.Document)
}

// Invoker dispatches tool calls against a registry.
type Invoker struct {
	reg       *registry.Registry
	tracerCfg trace.Config
	sink      Sink
	log       logging.Logger
}

// New constructs an Invoker bound to reg, bounding traces per tracerCfg and
// handing finished traces to sink. log may be nil, in which case retries go
// unlogged.
func New(reg *registry.Registry, tracerCfg trace.Config, sink Sink, log logging.Logger) *Invoker {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Invoker{reg: reg, tracerCfg: tracerCfg, sink: sink, log: log}
}

// Registry returns the registry this invoker dispatches against, for
// transports that need to list registered capabilities alongside invoking
// them.
func (inv *Invoker) Registry() *registry.Registry {
	return inv.reg
}

// Metadata accompanies every Result.
type Metadata struct {
	ExecutionTimeMS int64  `json:"executionTimeMs"`
	ToolName        string `json:"toolName"`
	Version         string `json:"version"`
	Timestamp       string `json:"timestamp"`
	TraceID         string `json:"traceId"`
}

// Result is the envelope returned by Invoke.
type Result struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    *stderrors.StandardError `json:"error,omitempty"`
	Metadata Metadata               `json:"metadata"`
}

// invokeScope implements descriptor.Scope for one running tool body.
type invokeScope struct {
	inv    *Invoker
	ctx    context.Context
	tr     *trace.Trace
	handle trace.Handle
}

func (s *invokeScope) TraceHandle() interface{} { return s.handle }

func (s *invokeScope) Dispatch(ctx context.Context, toolName string, input map[string]interface{}) (map[string]interface{}, error) {
	result := s.inv.Invoke(ctx, toolName, input, s.tr, s.handle, "")
	if !result.Success {
		return nil, result.Error
	}
	return result.Data, nil
}

// Invoke runs toolName with input. requestID identifies the originating
// request for tracing; pass "" if it doesn't apply.
func (inv *Invoker) Invoke(ctx context.Context, toolName string, input map[string]interface{}, parentTrace *trace.Trace, parentHandle trace.Handle, requestID string) Result {
	if inv.reg.ShuttingDown() {
		return errorResult(toolName, stderrors.New(stderrors.ShuttingDown, "the service is shutting down"))
	}

	entry, err := inv.reg.Lookup(descriptor.KindTool, toolName)
	if err != nil {
		return errorResult(toolName, stderrors.NewToolNotFound(toolName))
	}
	desc := entry.ToolDescriptor

	if err := validation.ValidateInput(desc.InputSchema, input); err != nil {
		return errorResult(toolName, err.(*stderrors.StandardError))
	}

	tr := parentTrace
	var handle trace.Handle
	owningTrace := tr == nil
	if owningTrace {
		tr = trace.New(inv.tracerCfg, requestID, "", "")
		handle = tr.StartRoot(toolName, "tool", input)
	} else {
		h, ok := tr.StartChild(parentHandle, toolName, "tool", input)
		if !ok {
			handle = parentHandle
		} else {
			handle = h
		}
	}

	start := time.Now()
	data, invokeErr := inv.runWithTimeoutAndRetry(ctx, desc, entry, tr, handle, input)
	elapsed := time.Since(start)

	success := invokeErr == nil
	if success {
		if err := validation.ValidateOutput(desc.OutputSchema, data); err != nil {
			invokeErr = err
			success = false
		}
	}

	tr.Close(handle, trace.Outcome{Success: success, Result: data, Err: invokeErr})

	if owningTrace && inv.sink != nil {
		inv.sink.Ingest(tr.ToDocument())
	}

	if !success {
		se := toStandardError(invokeErr)
		return Result{
			Success: false,
			Error:   se,
			Metadata: Metadata{
				ExecutionTimeMS: elapsed.Milliseconds(),
				ToolName:        toolName,
				Version:         desc.Version,
				Timestamp:       time.Now().UTC().Format(time.RFC3339),
				TraceID:         string(handle),
			},
		}
	}

	return Result{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			ExecutionTimeMS: elapsed.Milliseconds(),
			ToolName:        toolName,
			Version:         desc.Version,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
			TraceID:         string(handle),
		},
	}
}

func (inv *Invoker) runWithTimeoutAndRetry(ctx context.Context, desc *descriptor.ToolDescriptor, entry *descriptor.RegistryEntry, tr *trace.Trace, handle trace.Handle, input map[string]interface{}) (map[string]interface{}, error) {
	attempt := func(ctx context.Context) (map[string]interface{}, error) {
		return inv.runOnce(ctx, desc, entry, tr, handle, input)
	}

	if desc.Retries == nil || *desc.Retries <= 0 {
		return attempt(ctx)
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = *desc.Retries + 1
	cfg.RetryIf = func(err error) bool { return stderrors.IsTemporary(err) }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		inv.log.Warn("retrying tool invocation",
			"tool", desc.Name,
			"traceId", string(handle),
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
	}
	r := retry.New(cfg)

	var data map[string]interface{}
	result := r.DoWithData(ctx, func(ctx context.Context, _ interface{}) error {
		d, err := attempt(ctx)
		data = d
		return err
	}, nil)
	return data, result.Err
}

func (inv *Invoker) runOnce(ctx context.Context, desc *descriptor.ToolDescriptor, entry *descriptor.RegistryEntry, tr *trace.Trace, handle trace.Handle, input map[string]interface{}) (map[string]interface{}, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if desc.Timeout != nil {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(*desc.Timeout)*time.Millisecond)
		defer cancel()
	}

	scope := &invokeScope{inv: inv, ctx: runCtx, tr: tr, handle: handle}

	type outcome struct {
		data map[string]interface{}
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: stderrors.Newf(stderrors.Internal, "tool panicked: %v", r)}
			}
		}()
		d, err := entry.ToolBody(runCtx, scope, input)
		done <- outcome{data: d, err: err}
	}()

	// A body that fails after runCtx has ended is reported as a timeout or
	// cancellation, whatever error it returned.
	finish := func(o outcome) (map[string]interface{}, error) {
		if o.err != nil && runCtx.Err() != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, stderrors.NewTimeout(desc.Name)
			}
			return nil, stderrors.NewCancelled(desc.Name)
		}
		return o.data, o.err
	}

	select {
	case o := <-done:
		return finish(o)
	case <-runCtx.Done():
		// Give the cooperative body forceTerminateGrace to notice
		// cancellation and return before declaring it force-terminated.
		select {
		case o := <-done:
			return finish(o)
		case <-time.After(forceTerminateGrace):
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, stderrors.NewTimeout(desc.Name)
			}
			return nil, stderrors.NewCancelled(desc.Name)
		}
	}
}

func toStandardError(err error) *stderrors.StandardError {
	if se, ok := err.(*stderrors.StandardError); ok {
		return se
	}
	return stderrors.NewInternal(err.Error())
}

func errorResult(toolName string, err *stderrors.StandardError) Result {
	return Result{
		Success: false,
		Error:   err,
		Metadata: Metadata{
			ToolName:  toolName,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}
