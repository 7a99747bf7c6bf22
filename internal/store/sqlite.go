package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// stateRowID is the fixed primary key fleet_state uses: one row per
// database, since each database is already scoped to a single OwnerKey.
const stateRowID = "state"

// sqliteStore is the modernc.org/sqlite-backed Store implementation. One
// instance, and one underlying *sql.DB, exists per OwnerKey.
type sqliteStore struct {
	db *sql.DB
}

// FilePath derives the on-disk database path for an OwnerKey inside dataDir,
// as "<tenant>__<sha256(path)-12hex>.db" so that arbitrarily deep or
// special-charactered canonical paths still map to a safe filename.
func FilePath(dataDir string, owner fleetpath.OwnerKey) string {
	sum := sha256.Sum256([]byte(owner.Path.String()))
	return filepath.Join(dataDir, fmt.Sprintf("%s__%s.db", owner.Tenant, hex.EncodeToString(sum[:])[:12]))
}

// Open opens (creating if absent) the SQLite database for owner, migrating
// its schema to CurrentSchemaVersion.
func Open(dataDir string, owner fleetpath.OwnerKey) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := openAndMigrate(FilePath(dataDir, owner))
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error { return s.db.Close() }

// ── Agent state ──────────────────────────────────────────────

func (s *sqliteStore) GetState(ctx context.Context) (*models.FleetState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT counter, children, agent_type, created_at, updated_at FROM fleet_state WHERE id = ?`, stateRowID)
	var (
		childrenJSON string
		createdAt    time.Time
		updatedAt    time.Time
		state        models.FleetState
	)
	if err := row.Scan(&state.Counter, &childrenJSON, &state.AgentType, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get state: %w", err)
	}
	if err := json.Unmarshal([]byte(childrenJSON), &state.Children); err != nil {
		return nil, fmt.Errorf("decode children: %w", err)
	}
	state.CreatedAt = createdAt
	state.UpdatedAt = updatedAt
	return &state, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, state *models.FleetState) error {
	childrenJSON, err := json.Marshal(state.Children)
	if err != nil {
		return fmt.Errorf("encode children: %w", err)
	}
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fleet_state (id, counter, children, agent_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counter = excluded.counter,
			children = excluded.children,
			agent_type = excluded.agent_type,
			updated_at = excluded.updated_at
	`, stateRowID, state.Counter, string(childrenJSON), state.AgentType, createdAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// ── Inventory ────────────────────────────────────────────────

func (s *sqliteStore) ListItems(ctx context.Context) ([]models.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sku, name, current_stock, low_stock_threshold, location, updated_at FROM inventory_items ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []models.InventoryItem
	for rows.Next() {
		var it models.InventoryItem
		if err := rows.Scan(&it.SKU, &it.Name, &it.CurrentStock, &it.LowStockThreshold, &it.Location, &it.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *sqliteStore) GetItem(ctx context.Context, sku string) (*models.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT sku, name, current_stock, low_stock_threshold, location, updated_at FROM inventory_items WHERE sku = ?`, sku)
	var it models.InventoryItem
	if err := row.Scan(&it.SKU, &it.Name, &it.CurrentStock, &it.LowStockThreshold, &it.Location, &it.LastUpdated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

func (s *sqliteStore) UpsertItem(ctx context.Context, item *models.InventoryItem) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (sku, name, current_stock, low_stock_threshold, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			name = excluded.name,
			current_stock = excluded.current_stock,
			low_stock_threshold = excluded.low_stock_threshold,
			location = excluded.location,
			updated_at = excluded.updated_at
	`, item.SKU, item.Name, item.CurrentStock, item.LowStockThreshold, item.Location, now, now)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecordTransaction(ctx context.Context, tx *models.InventoryTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_transactions (sku, operation, quantity, location, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, tx.SKU, tx.Operation, tx.Quantity, tx.Location, tx.Timestamp)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListTransactions(ctx context.Context, sku string, limit int) ([]models.InventoryTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, operation, quantity, location, timestamp FROM inventory_transactions
		WHERE sku = ? ORDER BY timestamp DESC LIMIT ?
	`, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryTransaction
	for rows.Next() {
		var tx models.InventoryTransaction
		if err := rows.Scan(&tx.ID, &tx.SKU, &tx.Operation, &tx.Quantity, &tx.Location, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ── Messages ─────────────────────────────────────────────────

func (s *sqliteStore) AppendMessage(ctx context.Context, msg *models.StoredMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stored_messages (id, timestamp, from_agent, to_agent, content, message_type, location)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Timestamp, msg.FromAgent, msg.ToAgent, msg.Content, msg.MessageType, msg.Location)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns one page of a location's history in chronological
// order: offset 0 is the oldest retained row, not the newest.
func (s *sqliteStore) ListMessages(ctx context.Context, location string, limit, offset int) ([]models.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, from_agent, to_agent, content, message_type, location FROM stored_messages
		WHERE location = ? ORDER BY timestamp ASC LIMIT ? OFFSET ?
	`, location, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.FromAgent, &m.ToAgent, &m.Content, &m.MessageType, &m.Location); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountMessages(ctx context.Context, location string) (int64, error) {
	var count int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stored_messages WHERE location = ?`, location)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *sqliteStore) PurgeMessagesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stored_messages WHERE timestamp < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	return res.RowsAffected()
}

// ── Threshold propagation records ───────────────────────────

func (s *sqliteStore) RecordAnalysis(ctx context.Context, a *models.InventoryAnalysis) error {
	analysisJSON, err := json.Marshal(a.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventory_analysis (sku, location, analysis, confidence, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, a.SKU, a.Location, string(analysisJSON), a.Confidence, a.Timestamp)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecordDecision(ctx context.Context, d *models.InventoryDecision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_decisions (sku, location, decision_type, reasoning, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, d.SKU, d.Location, d.DecisionType, d.Reasoning, d.Timestamp)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecordForecast(ctx context.Context, f *models.DemandForecast) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO demand_forecasts (sku, location, predicted_demand, confidence, trend_direction, reasoning, forecast_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.SKU, f.Location, f.PredictedDemand, f.Confidence, f.TrendDirection, f.Reasoning, f.ForecastDate)
	if err != nil {
		return fmt.Errorf("record forecast: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListAnalyses(ctx context.Context, sku string, limit int) ([]models.InventoryAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, location, analysis, confidence, timestamp FROM inventory_analysis
		WHERE sku = ? ORDER BY timestamp DESC LIMIT ?
	`, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryAnalysis
	for rows.Next() {
		var a models.InventoryAnalysis
		var analysisJSON string
		if err := rows.Scan(&a.ID, &a.SKU, &a.Location, &analysisJSON, &a.Confidence, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(analysisJSON), &a.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListDecisions(ctx context.Context, sku string, limit int) ([]models.InventoryDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, location, decision_type, reasoning, timestamp FROM inventory_decisions
		WHERE sku = ? ORDER BY timestamp DESC LIMIT ?
	`, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryDecision
	for rows.Next() {
		var d models.InventoryDecision
		if err := rows.Scan(&d.ID, &d.SKU, &d.Location, &d.DecisionType, &d.Reasoning, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListForecasts(ctx context.Context, sku string, limit int) ([]models.DemandForecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, location, predicted_demand, confidence, trend_direction, reasoning, forecast_date FROM demand_forecasts
		WHERE sku = ? ORDER BY forecast_date DESC LIMIT ?
	`, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	defer rows.Close()

	var out []models.DemandForecast
	for rows.Next() {
		var f models.DemandForecast
		if err := rows.Scan(&f.ID, &f.SKU, &f.Location, &f.PredictedDemand, &f.Confidence, &f.TrendDirection, &f.Reasoning, &f.ForecastDate); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRecentAnalyses(ctx context.Context, location string, limit int) ([]models.InventoryAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, location, analysis, confidence, timestamp FROM inventory_analysis
		WHERE location = ? ORDER BY timestamp DESC LIMIT ?
	`, location, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent analyses: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryAnalysis
	for rows.Next() {
		var a models.InventoryAnalysis
		var analysisJSON string
		if err := rows.Scan(&a.ID, &a.SKU, &a.Location, &analysisJSON, &a.Confidence, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(analysisJSON), &a.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRecentDecisions(ctx context.Context, location string, limit int) ([]models.InventoryDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, location, decision_type, reasoning, timestamp FROM inventory_decisions
		WHERE location = ? ORDER BY timestamp DESC LIMIT ?
	`, location, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryDecision
	for rows.Next() {
		var d models.InventoryDecision
		if err := rows.Scan(&d.ID, &d.SKU, &d.Location, &d.DecisionType, &d.Reasoning, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRecentForecasts(ctx context.Context, location string, limit int) ([]models.DemandForecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, location, predicted_demand, confidence, trend_direction, reasoning, forecast_date FROM demand_forecasts
		WHERE location = ? ORDER BY forecast_date DESC LIMIT ?
	`, location, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent forecasts: %w", err)
	}
	defer rows.Close()

	var out []models.DemandForecast
	for rows.Next() {
		var f models.DemandForecast
		if err := rows.Scan(&f.ID, &f.SKU, &f.Location, &f.PredictedDemand, &f.Confidence, &f.TrendDirection, &f.Reasoning, &f.ForecastDate); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ── Chat statistics ──────────────────────────────────────────

func (s *sqliteStore) GetStats(ctx context.Context, location, date string) (*models.ChatStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT location, date, messages_today, actions_executed, successful_actions, success_rate
		FROM chat_statistics WHERE location = ? AND date = ?
	`, location, date)
	var c models.ChatStats
	if err := row.Scan(&c.Location, &c.Date, &c.MessagesToday, &c.ActionsExecuted, &c.SuccessfulActions, &c.SuccessRate); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &c, nil
}

func (s *sqliteStore) SaveStats(ctx context.Context, stats *models.ChatStats) error {
	stats.Recompute()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_statistics (location, date, messages_today, actions_executed, successful_actions, success_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location, date) DO UPDATE SET
			messages_today = excluded.messages_today,
			actions_executed = excluded.actions_executed,
			successful_actions = excluded.successful_actions,
			success_rate = excluded.success_rate,
			updated_at = excluded.updated_at
	`, stats.Location, stats.Date, stats.MessagesToday, stats.ActionsExecuted, stats.SuccessfulActions, stats.SuccessRate, now, now)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}
