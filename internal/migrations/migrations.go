package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add lookup indices for failed validation results",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_validation_results_failed ON validation_results(verified, batch_id);
			CREATE INDEX IF NOT EXISTS idx_validation_results_host ON validation_results(host);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_validation_results_failed;
			DROP INDEX IF EXISTS idx_validation_results_host;
		`,
	},
	{
		Version: 2,
		Name:    "Add iteration index on traffic runs",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_traffic_runs_iteration ON traffic_runs(iteration);
			CREATE INDEX IF NOT EXISTS idx_validation_batches_iteration ON validation_batches(iteration);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_traffic_runs_iteration;
			DROP INDEX IF EXISTS idx_validation_batches_iteration;
		`,
	},
}

// InitSchema creates the base tables. It is safe to call on an existing database.
func InitSchema(db *sql.DB) error {
	schema := `
	-- One row per traffic job executed by the stress loop or the traffic command
	CREATE TABLE IF NOT EXISTS traffic_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		iteration INTEGER NOT NULL DEFAULT 0,
		protocol TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		units_sent INTEGER NOT NULL DEFAULT 0,
		units_succeeded INTEGER NOT NULL DEFAULT 0,
		units_failed INTEGER NOT NULL DEFAULT 0,
		targets TEXT,
		avg_duration_ms REAL,
		min_duration_ms INTEGER,
		max_duration_ms INTEGER,
		p50_duration_ms INTEGER,
		p95_duration_ms INTEGER,
		p99_duration_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_traffic_runs_started_at ON traffic_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_traffic_runs_protocol ON traffic_runs(protocol);

	-- One row per validation batch
	CREATE TABLE IF NOT EXISTS validation_batches (
		id TEXT PRIMARY KEY,
		iteration INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		rounds INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		total_targets INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_validation_batches_started_at ON validation_batches(started_at DESC);

	-- One row per (process, url) target in a batch
	CREATE TABLE IF NOT EXISTS validation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		process TEXT NOT NULL,
		url TEXT NOT NULL,
		host TEXT NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		basis TEXT NOT NULL,
		issuer TEXT,
		FOREIGN KEY (batch_id) REFERENCES validation_batches(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_validation_results_batch_id ON validation_results(batch_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
