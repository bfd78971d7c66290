package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestRun_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for i := 0; i < 2; i++ {
		if err := Run(db); err != nil {
			t.Fatalf("Run #%d failed: %v", i+1, err)
		}
	}

	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("GetCurrentVersion failed: %v", err)
	}
	if want := AllMigrations[len(AllMigrations)-1].Version; version != want {
		t.Errorf("version = %d, want %d", version, want)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if applied != len(AllMigrations) {
		t.Errorf("applied %d migrations, want %d", applied, len(AllMigrations))
	}

	for _, table := range []string{"traffic_runs", "validation_batches", "validation_results"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrations_Ordered(t *testing.T) {
	for i := 1; i < len(AllMigrations); i++ {
		if AllMigrations[i].Version <= AllMigrations[i-1].Version {
			t.Errorf("migration %d is not after %d", AllMigrations[i].Version, AllMigrations[i-1].Version)
		}
	}
}
