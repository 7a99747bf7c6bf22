package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version every per-OwnerKey database is
// migrated to on open.
const CurrentSchemaVersion = 1

// openAndMigrate opens dbPath with the pragmas the agent-state database
// needs (WAL for concurrent readers, foreign keys on) and brings its schema
// up to CurrentSchemaVersion.
func openAndMigrate(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

func initializeSchemaWithMigrations(db *sql.DB) error {
	current, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if current == 0 {
		return createSchema(db)
	}
	if current == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, current, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies one version's migration. Tables and indexes are
// always created with CREATE-IF-NOT-EXISTS, so re-applying a migration is
// a no-op — the contract spec.md §4.5 requires.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return createSchema(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS fleet_state (
			id TEXT PRIMARY KEY,
			counter INTEGER NOT NULL DEFAULT 0,
			children TEXT NOT NULL DEFAULT '[]',
			agent_type TEXT NOT NULL DEFAULT 'orchestrator',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			sku TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			current_stock INTEGER NOT NULL DEFAULT 0,
			low_stock_threshold INTEGER NOT NULL DEFAULT 0,
			location TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stored_messages (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent TEXT,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL,
			location TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			operation TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			location TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_analysis (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			location TEXT NOT NULL,
			analysis TEXT NOT NULL DEFAULT '{}',
			confidence REAL NOT NULL DEFAULT 0,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			location TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS demand_forecasts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			location TEXT NOT NULL,
			predicted_demand REAL NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			trend_direction TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			forecast_date DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_statistics (
			location TEXT NOT NULL,
			date TEXT NOT NULL,
			messages_today INTEGER NOT NULL DEFAULT 0,
			actions_executed INTEGER NOT NULL DEFAULT 0,
			successful_actions INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(location, date)
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_inventory_items_location ON inventory_items(location)`,
		`CREATE INDEX IF NOT EXISTS idx_stored_messages_location_ts ON stored_messages(location, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_transactions_sku_ts ON inventory_transactions(sku, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_demand_forecasts_location_date ON demand_forecasts(location, forecast_date)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_statistics_location_date ON chat_statistics(location, date)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan schema version: %w", err)
	}
	return version, nil
}
