package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
)

func toolEntry(name string) *descriptor.RegistryEntry {
	return &descriptor.RegistryEntry{
		Kind:           descriptor.KindTool,
		ToolDescriptor: &descriptor.ToolDescriptor{Name: name, Version: "1.0.0"},
		ToolBody: func(ctx context.Context, scope descriptor.Scope, input map[string]interface{}) (map[string]interface{}, error) {
			return input, nil
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(toolEntry("echo")))
	require.NoError(t, r.InitializeAll(context.Background()))

	entry, err := r.Lookup(descriptor.KindTool, "echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", entry.Name())
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	r := New()
	require.NoError(t, r.InitializeAll(context.Background()))

	_, err := r.Lookup(descriptor.KindTool, "missing")
	require.Error(t, err)
	assert.True(t, stderrors.IsNotFound(err))
}

func TestLookupBeforeInitializeAllReturnsNotFoundEvenForExistingEntry(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(toolEntry("echo")))

	_, err := r.Lookup(descriptor.KindTool, "echo")
	require.Error(t, err)
	assert.True(t, stderrors.IsNotFound(err))
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(toolEntry("echo")))
	err := r.Register(toolEntry("echo"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, stderrors.DuplicateName))
}

func TestRegisterAfterInitializeAllFails(t *testing.T) {
	r := New()
	require.NoError(t, r.InitializeAll(context.Background()))

	err := r.Register(toolEntry("late"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, stderrors.AlreadyInitialized))
}

func TestListIsSortedLexicographically(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(toolEntry("zeta")))
	require.NoError(t, r.Register(toolEntry("alpha")))
	require.NoError(t, r.Register(toolEntry("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List(descriptor.KindTool))
}

func TestInitializeAllStopsOnFirstFailure(t *testing.T) {
	r := New()
	calls := []string{}

	ok := &descriptor.RegistryEntry{
		Kind:               descriptor.KindResource,
		ResourceDescriptor: &descriptor.ResourceDescriptor{Name: "ok", MaxConnections: 1},
		ResourceBody: &descriptor.ResourceBody{
			Init: func(ctx context.Context) error {
				calls = append(calls, "ok")
				return nil
			},
		},
	}
	failing := &descriptor.RegistryEntry{
		Kind:               descriptor.KindResource,
		ResourceDescriptor: &descriptor.ResourceDescriptor{Name: "bad", MaxConnections: 1},
		ResourceBody: &descriptor.ResourceBody{
			Init: func(ctx context.Context) error {
				calls = append(calls, "bad")
				return assertErr
			},
		},
	}
	never := &descriptor.RegistryEntry{
		Kind:               descriptor.KindResource,
		ResourceDescriptor: &descriptor.ResourceDescriptor{Name: "never", MaxConnections: 1},
		ResourceBody: &descriptor.ResourceBody{
			Init: func(ctx context.Context) error {
				calls = append(calls, "never")
				return nil
			},
		},
	}

	require.NoError(t, r.Register(ok))
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(never))

	err := r.InitializeAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"ok", "bad"}, calls)
	assert.False(t, r.Initialized())
}

func TestShutdownRunsInReverseRegistrationOrder(t *testing.T) {
	r := New()
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		entry := &descriptor.RegistryEntry{
			Kind:               descriptor.KindResource,
			ResourceDescriptor: &descriptor.ResourceDescriptor{Name: name, MaxConnections: 1},
			ResourceBody: &descriptor.ResourceBody{
				Close: func(ctx context.Context) error {
					order = append(order, name)
					return nil
				},
			},
		}
		require.NoError(t, r.Register(entry))
	}

	require.NoError(t, r.InitializeAll(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.True(t, r.ShuttingDown())
}

var assertErr = stderrors.New(stderrors.Internal, "boom")
