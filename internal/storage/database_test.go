package storage

import (
	"path/filepath"
	"testing"

	"cordai/internal/config"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(db, "sqlite"); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		t.Fatalf("query conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty table, got %d rows", count)
	}
}

func TestOpenSQLiteFromConfig(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: filepath.Join(t.TempDir(), "cordai.db")},
	}}
	db, err := Open("sqlite", cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {}}}
	if _, err := Open("sqlite3", cfg); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := Open("mysql", cfg); err == nil {
		t.Fatalf("expected error for missing mysql config")
	}
	if err := Migrate(nil, "postgres"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
