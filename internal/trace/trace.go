// Package trace implements the per-request execution tracer: a mutable call
// tree with push/pop semantics, bounded size, and redaction at close.
//
// No teacher file builds this shape directly (OpenTelemetry spans don't
// support bounded-size truncation or redaction-at-close with byte-identical
// round-trip serialization), so this package is grounded in idiom - a
// mutex-guarded bounded tree, the same shape the teacher uses for its
// connection pool and hub state - rather than in a specific teacher file.
package trace

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// foldKey normalizes a field name for locale-stable case-insensitive
// matching against SensitiveKeys, cheaper to get right than ad hoc
// strings.ToLower/EqualFold calls once non-ASCII field names show up.
var foldKey = cases.Fold()

// Node is one entry in the call tree.
type Node struct {
	ID       string                 `json:"id"`
	ParentID string                 `json:"parentId,omitempty"`
	Label    string                 `json:"label"`
	Phase    string                 `json:"phase"`

	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	Input  map[string]interface{} `json:"input,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Children []string `json:"children"`
}

// DurationMS returns the closed node's duration in milliseconds, or -1 if
// the node has not closed yet.
func (n *Node) DurationMS() int64 {
	if n.End == nil {
		return -1
	}
	return n.End.Sub(n.Start).Milliseconds()
}

// Sidecar is a non-tree sample attached to the trace (performance metric,
// user pattern, cache op).
type Sidecar struct {
	Kind    string                 `json:"kind"`
	Payload map[string]interface{} `json:"payload"`
	At      time.Time              `json:"at"`
}

// Outcome is reported at Close.
type Outcome struct {
	Success bool
	Result  map[string]interface{}
	Err     error
}

// Handle identifies an open node within a Trace.
type Handle string

// Config bounds a trace's size.
type Config struct {
	MaxNodes int
	MaxBytes int
}

// DefaultConfig matches the size bounds named in the execution-tracer
// component: 10,000 nodes, 1 MiB cumulative parameter/result bytes.
func DefaultConfig() Config {
	return Config{MaxNodes: 10000, MaxBytes: 1 << 20}
}

// SensitiveKeys are the input/output keys redacted at node close.
var SensitiveKeys = map[string]bool{
	"password": true, "secret": true, "token": true,
	"apiKey": true, "api_key": true, "authorization": true,
	"credential": true, "credentials": true,
}

var foldedSensitiveKeys = func() map[string]bool {
	out := make(map[string]bool, len(SensitiveKeys))
	for k := range SensitiveKeys {
		out[foldKey.String(k)] = true
	}
	return out
}()

const redactedMarker = "[REDACTED]"

// Trace is a mutable call tree owned by the request handler while open; on
// Close of the root it becomes immutable and ownership transfers to the
// caller (normally the analytics pipeline).
type Trace struct {
	mu sync.Mutex

	cfg Config

	RequestID string
	UserID    string
	SessionID string

	rootID string
	nodes  map[string]*Node
	open   map[string][]string // parent id -> still-open child ids, LIFO order enforced by Close

	bytesUsed int
	overflow  int
	truncated bool

	sidecars []Sidecar

	closedAt *time.Time
}

// New starts a trace; the root is opened immediately via StartRoot.
func New(cfg Config, requestID, userID, sessionID string) *Trace {
	return &Trace{
		cfg:       cfg,
		RequestID: requestID,
		UserID:    userID,
		SessionID: sessionID,
		nodes:     make(map[string]*Node),
		open:      make(map[string][]string),
	}
}

// StartRoot creates the trace's root node.
func (t *Trace) StartRoot(label, phase string, input map[string]interface{}) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.New().String()
	t.rootID = id
	node := &Node{ID: id, Label: label, Phase: phase, Start: time.Now(), Input: input}
	t.nodes[id] = node
	t.open[""] = append(t.open[""], id)
	t.accountBytes(input)
	return Handle(id)
}

// StartChild appends a new node as the last child of parent. If the trace
// has hit its node-count bound, the child is elided and counted in the
// overflow field instead.
func (t *Trace) StartChild(parent Handle, label, phase string, input map[string]interface{}) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.nodes) >= t.cfg.MaxNodes {
		t.overflow++
		t.truncated = true
		return "", false
	}

	id := uuid.New().String()
	node := &Node{ID: id, ParentID: string(parent), Label: label, Phase: phase, Start: time.Now(), Input: input}
	t.nodes[id] = node
	if p, ok := t.nodes[string(parent)]; ok {
		p.Children = append(p.Children, id)
	}
	t.open[string(parent)] = append(t.open[string(parent)], id)
	t.accountBytes(input)
	return Handle(id), true
}

// Close closes handle, recording its outcome. Nodes must close in LIFO
// order relative to their parent; closing out of order is a programming
// error and is reported back via ok=false rather than panicking.
func (t *Trace) Close(handle Handle, outcome Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[string(handle)]
	if !ok || node.End != nil {
		return false
	}

	siblings := t.open[node.ParentID]
	if len(siblings) == 0 || siblings[len(siblings)-1] != string(handle) {
		return false // not the most recently opened child: LIFO violation
	}
	t.open[node.ParentID] = siblings[:len(siblings)-1]

	now := time.Now()
	node.End = &now
	node.Success = outcome.Success
	node.Result = outcome.Result
	if outcome.Err != nil {
		node.Error = outcome.Err.Error()
	}

	t.redact(node)
	t.accountBytes(node.Result)

	if string(handle) == t.rootID {
		closedAt := now
		t.closedAt = &closedAt
	}
	return true
}

// RecordSidecar attaches a non-tree sample to the trace.
func (t *Trace) RecordSidecar(kind string, payload map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sidecars = append(t.sidecars, Sidecar{Kind: kind, Payload: payload, At: time.Now()})
}

// Complete reports whether the root is closed and every descendant closed
// along with it (i.e. no node remains open).
func (t *Trace) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closedAt == nil {
		return false
	}
	for _, open := range t.open {
		if len(open) > 0 {
			return false
		}
	}
	return true
}

// Truncated reports whether any child was elided due to the size bound.
func (t *Trace) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}

// Root returns the root node's id.
func (t *Trace) Root() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootID
}

// Node returns a copy of the named node, if present.
func (t *Trace) Node(id string) (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns a flat, deterministically ordered copy of every node.
func (t *Trace) Nodes() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Sidecars returns a copy of the trace's sidecar records.
func (t *Trace) Sidecars() []Sidecar {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sidecar, len(t.sidecars))
	copy(out, t.sidecars)
	return out
}

func (t *Trace) accountBytes(m map[string]interface{}) {
	if m == nil {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	t.bytesUsed += len(b)
	if t.bytesUsed > t.cfg.MaxBytes {
		t.truncated = true
	}
}

func (t *Trace) redact(node *Node) {
	node.Input = redactMap(node.Input)
	node.Result = redactMap(node.Result)
}

func redactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if foldedSensitiveKeys[foldKey.String(k)] {
			out[k] = redactedMarker
			continue
		}
		out[k] = v
	}
	return out
}

// Document is the JSON-serializable, round-trippable form of a closed
// trace.
type Document struct {
	RequestID string    `json:"requestId"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	RootID    string    `json:"rootId"`
	Nodes     []Node    `json:"nodes"`
	Sidecars  []Sidecar `json:"sidecars,omitempty"`
	Truncated bool      `json:"truncated"`
	Overflow  int       `json:"overflow"`
}

// ToDocument renders the trace for persistence/export.
func (t *Trace) ToDocument() Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	nodes := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Start.Before(nodes[j].Start) })

	return Document{
		RequestID: t.RequestID,
		UserID:    t.UserID,
		SessionID: t.SessionID,
		RootID:    t.rootID,
		Nodes:     nodes,
		Sidecars:  append([]Sidecar(nil), t.sidecars...),
		Truncated: t.truncated,
		Overflow:  t.overflow,
	}
}

// FromDocument reconstructs a Trace from a previously exported Document.
// Used to verify export(json) -> import -> export(json) round-trips.
func FromDocument(cfg Config, doc Document) *Trace {
	t := New(cfg, doc.RequestID, doc.UserID, doc.SessionID)
	t.rootID = doc.RootID
	t.truncated = doc.Truncated
	t.overflow = doc.Overflow
	t.sidecars = append([]Sidecar(nil), doc.Sidecars...)
	for i := range doc.Nodes {
		n := doc.Nodes[i]
		t.nodes[n.ID] = &n
	}
	if root, ok := t.nodes[doc.RootID]; ok && root.End != nil {
		closedAt := *root.End
		t.closedAt = &closedAt
	}
	return t
}
