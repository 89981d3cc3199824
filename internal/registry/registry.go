// Package registry implements the process-wide name-to-entry mapping for
// tools, resources, and prompts: register, lookup, list, initializeAll, and
// shutdown, grounded on the teacher's server.go map-plus-RWMutex shape but
// generalized to a single tagged-union entry type and an explicit bootstrap
// phase rather than a static singleton.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
)

// Registry holds the three name-to-entry mappings. Registration is
// single-threaded (bootstrap); lookups are thread-safe and lock-free-ish
// (RWMutex) once initialized.
type Registry struct {
	mu sync.RWMutex

	entries map[descriptor.Kind]map[string]*descriptor.RegistryEntry
	order   []registeredKey // registration order, for reverse-order shutdown

	initialized bool
	shutdownAt  bool
}

type registeredKey struct {
	kind descriptor.Kind
	name string
}

// New returns an empty registry ready for bootstrap registration.
func New() *Registry {
	return &Registry{
		entries: map[descriptor.Kind]map[string]*descriptor.RegistryEntry{
			descriptor.KindTool:     make(map[string]*descriptor.RegistryEntry),
			descriptor.KindResource: make(map[string]*descriptor.RegistryEntry),
			descriptor.KindPrompt:   make(map[string]*descriptor.RegistryEntry),
		},
	}
}

// Register adds an entry under (kind, name). Fails with DuplicateName on a
// name collision within the same kind, or AlreadyInitialized if the
// bootstrap phase (InitializeAll) has already run.
func (r *Registry) Register(entry *descriptor.RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return stderrors.Newf(stderrors.AlreadyInitialized,
			"cannot register %q: registry has already been initialized", entry.Name())
	}

	bucket := r.entries[entry.Kind]
	name := entry.Name()
	if _, exists := bucket[name]; exists {
		return stderrors.Newf(stderrors.DuplicateName,
			"a %s named %q is already registered", entry.Kind, name)
	}

	bucket[name] = entry
	r.order = append(r.order, registeredKey{kind: entry.Kind, name: name})
	return nil
}

// Lookup returns the entry registered under (kind, name), or NotFound. An
// entry is only visible to Lookup once InitializeAll has completed - a
// registered-but-uninitialized resource (or any tool/prompt registered
// alongside it) must not be dispatchable, so Lookup reports NotFound for it
// exactly as if it were never registered.
func (r *Registry) Lookup(kind descriptor.Kind, name string) (*descriptor.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, stderrors.Newf(stderrors.NotFound, "no %s named %q is registered", kind, name)
	}

	entry, ok := r.entries[kind][name]
	if !ok {
		return nil, stderrors.Newf(stderrors.NotFound, "no %s named %q is registered", kind, name)
	}
	return entry, nil
}

// List returns the lexicographically sorted names registered under kind.
func (r *Registry) List(kind descriptor.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.entries[kind]
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitializeAll runs every registered resource's initializer in registration
// order, stopping on first failure. After this call returns successfully,
// further Register calls fail with AlreadyInitialized.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return stderrors.New(stderrors.AlreadyInitialized, "registry has already been initialized")
	}
	// Snapshot resource bodies while still holding the lock; Init calls
	// themselves run outside it. They cannot call back into Lookup - it is
	// gated on initialized, which is still false at this point.
	var toInit []*descriptor.RegistryEntry
	for _, key := range r.order {
		if key.kind != descriptor.KindResource {
			continue
		}
		toInit = append(toInit, r.entries[descriptor.KindResource][key.name])
	}
	r.mu.Unlock()

	for _, entry := range toInit {
		if entry.ResourceBody == nil || entry.ResourceBody.Init == nil {
			continue
		}
		if err := entry.ResourceBody.Init(ctx); err != nil {
			return stderrors.Newf(stderrors.Internal, "resource %q failed to initialize: %v", entry.Name(), err)
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
	return nil
}

// Initialized reports whether InitializeAll has completed.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// ShuttingDown reports whether Shutdown has been called.
func (r *Registry) ShuttingDown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shutdownAt
}

// Shutdown invokes each resource's cleanup in reverse registration order,
// aggregating errors without letting one entry's failure stop the others.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdownAt = true
	order := make([]registeredKey, len(r.order))
	copy(order, r.order)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		key := order[i]
		if key.kind != descriptor.KindResource {
			continue
		}
		entry := r.entries[descriptor.KindResource][key.name]
		if entry.ResourceBody == nil || entry.ResourceBody.Close == nil {
			continue
		}
		if err := entry.ResourceBody.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("resource %q: %w", key.name, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &multiError{errs: errs}
}

// multiError aggregates independent shutdown failures into one error value
// without losing any individual cause.
type multiError struct {
	errs []error
}

func (m *multiError) Error() string {
	msg := fmt.Sprintf("%d shutdown error(s):", len(m.errs))
	for _, e := range m.errs {
		msg += " " + e.Error() + ";"
	}
	return msg
}

func (m *multiError) Unwrap() []error {
	return m.errs
}
