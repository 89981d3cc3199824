// Package transport implements the external interfaces the server
// exposes: a JSON-over-stdio request/response envelope and a WebSocket
// pub-sub endpoint over the broadcast fabric.
//
// Grounded on the teacher's pkg/mcp/transport/stdio.go scan loop, adapted
// from its JSON-RPC envelope to the {name,arguments} -> {success,data,
// error,timestamp} envelope and dropping the JSON-RPC id/method fields
// this server has no use for.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"toolmesh/internal/auth"
	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
	"toolmesh/internal/invoker"
	"toolmesh/internal/tracing"
)

// Request is one stdio request line.
type Request struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Token     string                 `json:"token,omitempty"`
}

// Response is one stdio response line.
type Response struct {
	Success   bool                     `json:"success"`
	Data      map[string]interface{}   `json:"data,omitempty"`
	Error     *stderrors.StandardError `json:"error,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
	IsError   bool                     `json:"isError,omitempty"`
}

// Stdio implements the stdio transport: one JSON request per line in,
// one JSON response per line out.
type Stdio struct {
	input   io.Reader
	output  io.Writer
	scanner *bufio.Scanner
	encoder *json.Encoder
	mu      sync.Mutex
	running bool
	checker auth.CredentialChecker
	tracer  *tracing.Exporter
}

// NewStdio constructs a Stdio transport bound to os.Stdin/os.Stdout,
// requiring every request to pass checker. tracer may be nil, in which
// case invocations are not exported to OTel.
func NewStdio(checker auth.CredentialChecker, tracer *tracing.Exporter) *Stdio {
	return NewStdioWithIO(os.Stdin, os.Stdout, checker, tracer)
}

// NewStdioWithIO constructs a Stdio transport bound to the given streams,
// for tests.
func NewStdioWithIO(input io.Reader, output io.Writer, checker auth.CredentialChecker, tracer *tracing.Exporter) *Stdio {
	if checker == nil {
		checker = auth.NoOpChecker{}
	}
	return &Stdio{
		input:   input,
		output:  output,
		scanner: bufio.NewScanner(input),
		encoder: json.NewEncoder(output),
		checker: checker,
		tracer:  tracer,
	}
}

// Run reads newline-delimited requests until ctx is cancelled or EOF, and
// dispatches each one through inv.
func (s *Stdio) Run(ctx context.Context, inv *invoker.Invoker) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("stdio transport already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// Scan blocks on the underlying reader and ignores ctx, so it runs on
	// its own goroutine and feeds lines through a channel the select loop
	// below can race against ctx.Done() - otherwise a cancelled context
	// would never stop a transport waiting on a silent stdin.
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for s.scanner.Scan() {
			line := append([]byte(nil), s.scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- s.scanner.Err()
	}()

	for {
		var line []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("scanning stdio input: %w", err)
					}
				default:
				}
				return nil
			}
			line = l
		}

		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = s.send(Response{
				Success:   false,
				IsError:   true,
				Error:     stderrors.New(stderrors.InvalidInput, "malformed request: "+err.Error()),
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		if !s.checker.Check(ctx, req.Token) {
			_ = s.send(Response{
				Success:   false,
				IsError:   true,
				Error:     stderrors.New(stderrors.InvalidInput, "credential check failed"),
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		if req.Name == "list-tools" {
			_ = s.send(listToolsResponse(inv))
			continue
		}

		reqID := fmt.Sprintf("stdio-%d", time.Now().UnixNano())

		var result invoker.Result
		if s.tracer != nil {
			spanCtx, span := s.tracer.TraceInvocation(ctx, req.Name, reqID)
			result = inv.Invoke(spanCtx, req.Name, req.Arguments, nil, "", reqID)
			tracing.RecordOutcome(span, result.Success, resultErr(result))
			span.End()
		} else {
			result = inv.Invoke(ctx, req.Name, req.Arguments, nil, "", reqID)
		}

		resp := Response{
			Success:   result.Success,
			Data:      result.Data,
			Error:     result.Error,
			Timestamp: time.Now().UTC(),
			IsError:   !result.Success,
		}
		if err := s.send(resp); err != nil {
			return err
		}
	}
}

// listToolsResponse builds the discovery payload for the "list-tools"
// pseudo-request: every registered tool's name, description, and input
// schema, read straight from the registry rather than a cached copy.
func listToolsResponse(inv *invoker.Invoker) Response {
	reg := inv.Registry()
	names := reg.List(descriptor.KindTool)

	tools := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		entry, err := reg.Lookup(descriptor.KindTool, name)
		if err != nil {
			continue
		}
		desc := entry.ToolDescriptor
		tools = append(tools, map[string]interface{}{
			"name":        desc.Name,
			"description": desc.Description,
			"inputSchema": desc.InputSchema,
		})
	}

	return Response{
		Success:   true,
		Data:      map[string]interface{}{"tools": tools},
		Timestamp: time.Now().UTC(),
	}
}

func resultErr(r invoker.Result) error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func (s *Stdio) send(resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(resp); err != nil {
		return fmt.Errorf("encoding stdio response: %w", err)
	}
	return nil
}

// IsRunning reports whether Run is currently active.
func (s *Stdio) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
