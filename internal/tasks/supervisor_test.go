package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisorRunsTaskOnInterval(t *testing.T) {
	var ticks atomic.Int32
	s := NewSupervisor()
	s.Add("counter", 10*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
	})

	s.Run(context.Background())
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}

func TestSupervisorStopJoinsAllTasks(t *testing.T) {
	var a, b atomic.Int32
	s := NewSupervisor()
	s.Add("a", 5*time.Millisecond, func(ctx context.Context) { a.Add(1) })
	s.Add("b", 5*time.Millisecond, func(ctx context.Context) { b.Add(1) })

	s.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	aAfterStop := a.Load()
	bAfterStop := b.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, aAfterStop, a.Load())
	assert.Equal(t, bAfterStop, b.Load())
}

func TestSupervisorStopWithoutRunDoesNotPanic(t *testing.T) {
	s := NewSupervisor()
	s.Add("noop", time.Second, func(ctx context.Context) {})
	assert.NotPanics(t, func() { s.Stop() })
}
