// Package contracts defines the narrow external-collaborator ports the
// fleet control plane's core depends on, the way the AgentOven control
// plane's pkg/contracts package defines the service interfaces that sit at
// the boundary between core handler code and swappable concrete
// implementations. Every port here MAY be backed by nil or an offline stub;
// the core must keep functioning with the deterministic fallback behaviors
// each port documents.
package contracts

import (
	"context"
	"time"
)

// ── Model Client ─────────────────────────────────────────────

// ModelMessage is one turn of a ModelClient conversation.
type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelResult is what Run returns: Parsed is populated when a response
// schema was supplied and the model's output matched it; Text always holds
// the raw textual reply.
type ModelResult struct {
	Parsed map[string]interface{} `json:"parsed,omitempty"`
	Text   string                 `json:"text"`
}

// ModelClient turns prompts into structured or free-text replies.
// On error, or when no implementation is bound, callers fall back to a
// deterministic stub response — the system never hard-fails on model
// unavailability.
type ModelClient interface {
	// Run sends messages to model and returns its reply. responseSchema,
	// when non-nil, is a JSON Schema the model is asked to conform to.
	Run(ctx context.Context, model string, messages []ModelMessage, responseSchema map[string]interface{}) (*ModelResult, error)
}

// ── Vector Store ─────────────────────────────────────────────

// VectorMatch is one nearest-neighbor result.
type VectorMatch struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorStore provides nearest-neighbor lookup over embedding vectors. If
// no implementation is bound, Query returns an empty match list rather
// than an error.
type VectorStore interface {
	// Insert adds or replaces one vector and its metadata.
	Insert(ctx context.Context, id string, vector []float64, metadata map[string]interface{}) error

	// Query returns up to topK nearest matches to vector.
	Query(ctx context.Context, vector []float64, topK int, returnMetadata bool) ([]VectorMatch, error)

	// DeleteByIDs removes the given vector IDs, ignoring IDs that don't exist.
	DeleteByIDs(ctx context.Context, ids []string) error
}

// ── Workflow Dispatcher ──────────────────────────────────────

// WorkflowStatus is the lifecycle state of a dispatched workflow job.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// WorkflowDispatcher enqueues named jobs with a payload. Dispatch is
// non-blocking; unknown workflow names are logged and dropped rather than
// erroring the caller.
type WorkflowDispatcher interface {
	// Create enqueues a job and returns its workflow ID immediately.
	Create(ctx context.Context, name string, payload map[string]interface{}) (string, error)

	// Get returns the current status of a previously created workflow.
	Get(ctx context.Context, id string) (WorkflowStatus, error)

	// Cancel requests cancellation of a running workflow. Returns true if
	// the workflow was found.
	Cancel(ctx context.Context, id string) bool
}

// ── Message Bus ──────────────────────────────────────────────

// BusMessage is one payload published to the bus for notification, audit,
// or embedding-update consumers.
type BusMessage struct {
	Topic     string                 `json:"topic"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// MessageBus publishes best-effort audit/notification/embedding-update
// traffic. Send never propagates transport failures as a user-facing
// error. Delivery may happen before Send returns: StubMessageBus posts to
// its webhook sink, with retries, on the caller's goroutine.
type MessageBus interface {
	Send(ctx context.Context, topic string, payload map[string]interface{}) error
}
