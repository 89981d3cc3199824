// Package descriptor defines the immutable data model shared by the
// registry, pool, invoker, and tracer: tool/resource/prompt descriptors and
// the registry entry that binds a descriptor to its implementation body.
package descriptor

import "context"

// Kind identifies which of the three namespaces a registry entry belongs to.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Schema is a JSON-schema subset: a map of field name to field constraint,
// consumed by internal/validation. Kept as a loosely typed map rather than a
// dedicated struct tree so descriptors can be loaded straight from YAML
// manifests without a bespoke unmarshaller.
type Schema map[string]interface{}

// ToolDescriptor describes one invocable tool. Immutable after registration.
type ToolDescriptor struct {
	Name         string
	Version      string
	Description  string
	InputSchema  Schema
	OutputSchema Schema
	Timeout      *int64 // milliseconds, nil means no deadline
	Retries      *int   // nil means no retry budget
}

// ResourceType tags what kind of external dependency a resource wraps.
type ResourceType string

const (
	ResourceFile     ResourceType = "file"
	ResourceDatabase ResourceType = "database"
	ResourceAPI      ResourceType = "api"
	ResourceMemory   ResourceType = "memory"
	ResourceCache    ResourceType = "cache"
)

// SecurityPolicy is an optional, opaque per-resource access policy; present
// for the credential-check hook to consult, not interpreted by the pool.
type SecurityPolicy struct {
	RequireCredential bool
	AllowedRoles      []string
}

// ResourceDescriptor describes one pooled external dependency. Immutable.
type ResourceDescriptor struct {
	Name              string
	Type              ResourceType
	Version           string
	ConnectionConfig  map[string]string
	MaxConnections    int
	AcquireTimeoutMS  int64

	// EstimatedConnBytes is the approximate memory footprint of one open
	// connection, and MaxMemoryBytes the budget the lifecycle manager
	// measures it against. MaxMemoryBytes<=0 disables the memory threshold.
	EstimatedConnBytes int64
	MaxMemoryBytes     int64

	Security          *SecurityPolicy
}

// PromptDescriptor describes one template prompt.
type PromptDescriptor struct {
	Name          string
	Version       string
	Template      string
	VariableSchemas Schema
	ContextSchema   Schema
	CachePolicy     *CachePolicy
}

// CachePolicy controls whether rendered prompts may be served from cache.
type CachePolicy struct {
	Enabled bool
	TTLMS   int64
}

// ToolBody is the implementation behind a ToolDescriptor. ctx carries
// cancellation and the dispatch capability is reached through Scope.
type ToolBody func(ctx context.Context, scope Scope, input map[string]interface{}) (map[string]interface{}, error)

// Scope is handed to a running tool body: the trace handle it writes child
// nodes under, and a way to dispatch into the registry for compositions.
type Scope interface {
	TraceHandle() interface{}
	Dispatch(ctx context.Context, toolName string, input map[string]interface{}) (map[string]interface{}, error)
}

// ResourceBody is the lifecycle implementation behind a ResourceDescriptor:
// Init creates the shared state a connection factory closes over, Close
// tears it down, and NewConnection/CloseConnection/ProbeConnection back the
// pool's acquire/release/probe operations.
type ResourceBody struct {
	Init            func(ctx context.Context) error
	Close           func(ctx context.Context) error
	NewConnection   func(ctx context.Context) (Connection, error)
	CloseConnection func(conn Connection) error
	ProbeConnection func(conn Connection) bool
}

// Connection is an opaque pooled handle with a stable id.
type Connection interface {
	ID() string
}

// PromptBody renders a PromptDescriptor's template given variables and an
// optional context map.
type PromptBody func(variables, ctx map[string]interface{}) (string, error)

// RegistryEntry is the tagged union the registry stores: exactly one of
// Tool/Resource/Prompt is non-nil, matching Kind.
type RegistryEntry struct {
	Kind Kind

	ToolDescriptor *ToolDescriptor
	ToolBody       ToolBody

	ResourceDescriptor *ResourceDescriptor
	ResourceBody       *ResourceBody

	PromptDescriptor *PromptDescriptor
	PromptBody       PromptBody
}

// Name returns the entry's descriptor name regardless of kind.
func (e *RegistryEntry) Name() string {
	switch e.Kind {
	case KindTool:
		return e.ToolDescriptor.Name
	case KindResource:
		return e.ResourceDescriptor.Name
	case KindPrompt:
		return e.PromptDescriptor.Name
	default:
		return ""
	}
}
