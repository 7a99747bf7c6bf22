// Package store persists one agent's state into a private, embedded SQL
// database, the way the AgentOven control plane's internal/store package
// defines a composite Store interface that handler code depends on instead
// of a concrete backend — except here each OwnerKey owns its own database
// file rather than all agents sharing one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetgrid/control-plane/pkg/models"
)

// ErrNotFound is returned when a row a caller expected to exist is absent.
var ErrNotFound = errors.New("store: not found")

// Store is the storage surface one Agent depends on. All handler and agent
// code is written against this interface so a test double can stand in for
// the SQLite-backed implementation.
type Store interface {
	AgentStateStore
	InventoryStore
	MessageStore
	AnalysisStore
	ChatStatsStore

	// Ping checks the underlying database connection is reachable.
	Ping(ctx context.Context) error

	// Close releases the database handle.
	Close() error
}

// ── Agent state ──────────────────────────────────────────────

// AgentStateStore persists the single FleetState row for an OwnerKey.
type AgentStateStore interface {
	GetState(ctx context.Context) (*models.FleetState, error)
	SaveState(ctx context.Context, state *models.FleetState) error
}

// ── Inventory ────────────────────────────────────────────────

// InventoryStore manages the inventory_items table and its transaction ledger.
type InventoryStore interface {
	ListItems(ctx context.Context) ([]models.InventoryItem, error)
	GetItem(ctx context.Context, sku string) (*models.InventoryItem, error)
	UpsertItem(ctx context.Context, item *models.InventoryItem) error
	RecordTransaction(ctx context.Context, tx *models.InventoryTransaction) error
	ListTransactions(ctx context.Context, sku string, limit int) ([]models.InventoryTransaction, error)
}

// ── Messages ─────────────────────────────────────────────────

// MessageStore manages stored_messages, keyed by location (the agent's
// canonical path, stamped on every row written through this database).
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.StoredMessage) error
	ListMessages(ctx context.Context, location string, limit, offset int) ([]models.StoredMessage, error)
	CountMessages(ctx context.Context, location string) (int64, error)
	PurgeMessagesOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// ── Threshold propagation records ───────────────────────────

// AnalysisStore records the inventory_analysis, inventory_decisions, and
// demand_forecasts rows the threshold-propagation pipeline writes.
type AnalysisStore interface {
	RecordAnalysis(ctx context.Context, a *models.InventoryAnalysis) error
	RecordDecision(ctx context.Context, d *models.InventoryDecision) error
	RecordForecast(ctx context.Context, f *models.DemandForecast) error
	ListAnalyses(ctx context.Context, sku string, limit int) ([]models.InventoryAnalysis, error)
	ListDecisions(ctx context.Context, sku string, limit int) ([]models.InventoryDecision, error)
	ListForecasts(ctx context.Context, sku string, limit int) ([]models.DemandForecast, error)

	// Location-scoped variants back the /ai/insights aggregation, which has
	// no single sku to scope by.
	ListRecentAnalyses(ctx context.Context, location string, limit int) ([]models.InventoryAnalysis, error)
	ListRecentDecisions(ctx context.Context, location string, limit int) ([]models.InventoryDecision, error)
	ListRecentForecasts(ctx context.Context, location string, limit int) ([]models.DemandForecast, error)
}

// ── Chat statistics ──────────────────────────────────────────

// ChatStatsStore manages the per-(location, date) chat_statistics row.
type ChatStatsStore interface {
	GetStats(ctx context.Context, location, date string) (*models.ChatStats, error)
	SaveStats(ctx context.Context, stats *models.ChatStats) error
}
