// Package tools holds the small set of built-in tool and resource bodies
// registered at startup, matched by name against the static manifest
// (tools.yaml). A production deployment of toolmesh would add its own
// bodies here or load them from a plugin mechanism outside this
// package's scope.
package tools

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"toolmesh/internal/descriptor"
)

// Bodies maps manifest tool names to their implementation.
func Bodies() map[string]descriptor.ToolBody {
	return map[string]descriptor.ToolBody{
		"echo": echoBody,
		"sleep": sleepBody,
	}
}

// echoBody returns its input unchanged, useful for exercising the
// invoke/trace/validate pipeline end to end without any side effects.
func echoBody(_ context.Context, _ descriptor.Scope, input map[string]interface{}) (map[string]interface{}, error) {
	return input, nil
}

// sleepBody blocks for the requested duration (ms), honoring context
// cancellation - the tool the invoker's timeout/force-terminate path is
// most naturally exercised against.
func sleepBody(ctx context.Context, _ descriptor.Scope, input map[string]interface{}) (map[string]interface{}, error) {
	ms, _ := input["durationMs"].(float64)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return map[string]interface{}{"sleptMs": ms}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// counterConnection is a trivial pooled resource: an atomic counter with
// a stable id, enough to exercise acquire/release/probe/cleanup without
// needing a real external dependency.
type counterConnection struct {
	id    string
	value int64
	alive bool
}

func (c *counterConnection) ID() string { return c.id }

// CounterResourceBody builds a ResourceBody for a demonstration in-memory
// counter resource, registered under the name given.
func CounterResourceBody(name string) *descriptor.ResourceBody {
	var seq int64
	return &descriptor.ResourceBody{
		Init:  func(context.Context) error { return nil },
		Close: func(context.Context) error { return nil },
		NewConnection: func(context.Context) (descriptor.Connection, error) {
			n := atomic.AddInt64(&seq, 1)
			return &counterConnection{id: fmt.Sprintf("%s-%d", name, n), alive: true}, nil
		},
		CloseConnection: func(conn descriptor.Connection) error {
			if c, ok := conn.(*counterConnection); ok {
				c.alive = false
			}
			return nil
		},
		ProbeConnection: func(conn descriptor.Connection) bool {
			c, ok := conn.(*counterConnection)
			return ok && c.alive
		},
	}
}
