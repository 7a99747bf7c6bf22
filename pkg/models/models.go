// Package models defines the shared domain entities of the fleet control
// plane: per-path agent state, inventory, stored messages, chat statistics,
// and the records threshold propagation writes to the store.
package models

import "time"

// ── Agent / FleetState ──────────────────────────────────────

// AgentType classifies the role an agent plays in the hierarchy.
type AgentType string

const (
	AgentOrchestrator AgentType = "orchestrator"
	AgentWarehouse    AgentType = "warehouse"
	AgentRetail       AgentType = "retail"
	AgentFulfillment  AgentType = "fulfillment"
)

// FleetState is the persisted, resumable state of one (tenant, path) agent.
type FleetState struct {
	Counter   int64     `json:"counter" db:"counter"`
	Children  []string  `json:"children" db:"children"` // direct sub-path segments, sorted
	AgentType AgentType `json:"agentType" db:"agent_type"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ── Inventory ────────────────────────────────────────────────

// InventoryItem is one SKU tracked at an agent's location.
type InventoryItem struct {
	SKU               string    `json:"sku" db:"sku"`
	Name              string    `json:"name" db:"name"`
	CurrentStock      int       `json:"currentStock" db:"current_stock"`
	LowStockThreshold int       `json:"lowStockThreshold" db:"low_stock_threshold"`
	Location          string    `json:"location" db:"location"`
	LastUpdated       time.Time `json:"lastUpdated" db:"updated_at"`
}

// StockOperation is the kind of mutation an InventoryUpdate applies.
type StockOperation string

const (
	StockSet       StockOperation = "set"
	StockIncrement StockOperation = "increment"
	StockDecrement StockOperation = "decrement"
)

// InventoryUpdate is a single requested mutation against one SKU.
type InventoryUpdate struct {
	SKU       string         `json:"sku"`
	Quantity  int            `json:"quantity"`
	Operation StockOperation `json:"operation"`
	Timestamp time.Time      `json:"timestamp"`
	Location  string         `json:"location,omitempty"`
}

// InventoryTransaction is an immutable ledger row: one per applied update.
type InventoryTransaction struct {
	ID        int64          `json:"id" db:"id"`
	SKU       string         `json:"sku" db:"sku"`
	Operation StockOperation `json:"operation" db:"operation"`
	Quantity  int            `json:"quantity" db:"quantity"`
	Location  string         `json:"location" db:"location"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}

// AlertSeverity distinguishes an out-of-stock item from a merely low one.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// StockAlert is a derived (not persisted) view of one under-threshold item.
type StockAlert struct {
	SKU          string        `json:"sku"`
	CurrentStock int           `json:"currentStock"`
	Threshold    int           `json:"threshold"`
	Location     string        `json:"location"`
	Severity     AlertSeverity `json:"severity"`
}

// ── Threshold propagation records ───────────────────────────

// InventoryAnalysis is one ModelClient-produced trend analysis for a SKU.
type InventoryAnalysis struct {
	ID         int64                  `json:"id" db:"id"`
	SKU        string                 `json:"sku" db:"sku"`
	Location   string                 `json:"location" db:"location"`
	Analysis   map[string]interface{} `json:"analysis" db:"analysis"`
	Confidence float64                `json:"confidence" db:"confidence"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
}

// DecisionType names the outcome of the threshold-propagation pipeline.
type DecisionType string

const (
	DecisionReorder      DecisionType = "reorder"
	DecisionNoAction     DecisionType = "no_action"
	DecisionEscalated    DecisionType = "escalated_for_approval"
	DecisionAutoApproved DecisionType = "auto_approved"
)

// InventoryDecision records why the agent did (or didn't) act on an alert.
type InventoryDecision struct {
	ID           int64        `json:"id" db:"id"`
	SKU          string       `json:"sku" db:"sku"`
	Location     string       `json:"location" db:"location"`
	DecisionType DecisionType `json:"decisionType" db:"decision_type"`
	Reasoning    string       `json:"reasoning" db:"reasoning"`
	Timestamp    time.Time    `json:"timestamp" db:"timestamp"`
}

// DemandForecast is a recorded forecast run for a SKU at a location.
type DemandForecast struct {
	ID              int64     `json:"id" db:"id"`
	SKU             string    `json:"sku" db:"sku"`
	Location        string    `json:"location" db:"location"`
	PredictedDemand float64   `json:"predictedDemand" db:"predicted_demand"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	TrendDirection  string    `json:"trendDirection" db:"trend_direction"`
	Reasoning       string    `json:"reasoning" db:"reasoning"`
	ForecastDate    time.Time `json:"forecastDate" db:"forecast_date"`
}

// ── Messages ─────────────────────────────────────────────────

// MessageType distinguishes direct, broadcast, and internal system messages.
type MessageType string

const (
	MessageDirect    MessageType = "direct"
	MessageBroadcast MessageType = "broadcast"
	MessageSystem    MessageType = "system"
)

// StoredMessage is one row of a location's message history.
type StoredMessage struct {
	ID          string      `json:"id" db:"id"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
	FromAgent   string      `json:"fromAgent" db:"from_agent"`
	ToAgent     *string     `json:"toAgent" db:"to_agent"` // nil means broadcast
	Content     string      `json:"content" db:"content"`
	MessageType MessageType `json:"messageType" db:"message_type"`
	Location    string      `json:"location" db:"location"`
}

// ── Chat statistics ──────────────────────────────────────────

// ChatStats are per-(location, UTC-date) counters for the chat surface.
type ChatStats struct {
	Location          string  `json:"-" db:"location"`
	Date              string  `json:"-" db:"date"` // YYYY-MM-DD, UTC
	MessagesToday     int     `json:"messagesToday" db:"messages_today"`
	ActionsExecuted   int     `json:"actionsExecuted" db:"actions_executed"`
	SuccessfulActions int     `json:"successfulActions" db:"successful_actions"`
	SuccessRate       float64 `json:"successRate" db:"success_rate"`
}

// Recompute derives SuccessRate from the counters, per the invariant that
// successRate = successfulActions / actionsExecuted * 100, or 0 when
// actionsExecuted is 0.
func (c *ChatStats) Recompute() {
	if c.ActionsExecuted <= 0 {
		c.SuccessRate = 0
		return
	}
	c.SuccessRate = float64(c.SuccessfulActions) / float64(c.ActionsExecuted) * 100
}

// ChatRole distinguishes the two sides of a chat exchange.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)
