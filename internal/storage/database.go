package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"cordai/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured SQL database. driver is sqlite3 or mysql.
func Open(driver string, cfg *config.Config) (*sql.DB, error) {
	driver = normalizeDriver(driver)
	dbCfg, ok := cfg.Databases[driver]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", driver)
	}

	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = OpenSQLite(dbCfg.DSN)
		if err != nil {
			return nil, err
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a sqlite database at dsn. ":memory:" is pinned to one
// connection so every query sees the same database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	return db, nil
}

// Migrate ensures the conversation summary table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch normalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				user_id TEXT NOT NULL,
				id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				position INTEGER NOT NULL,
				last_message_at DATETIME,
				last_read_at DATETIME,
				PRIMARY KEY (user_id, id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_user_position ON conversations(user_id, position DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				user_id VARCHAR(128) NOT NULL,
				id VARCHAR(191) NOT NULL,
				title VARCHAR(255) NOT NULL DEFAULT '',
				position BIGINT NOT NULL,
				last_message_at DATETIME(3) NULL,
				last_read_at DATETIME(3) NULL,
				PRIMARY KEY (user_id, id),
				INDEX idx_conversations_user_position (user_id, position)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(driver)
	}
}
