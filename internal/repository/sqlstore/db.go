// Package sqlstore is a database/sql implementation of the workspace and user
// stores, shared by the embedded SQLite driver and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names the SQL flavour of a DB
type Dialect string

const (
	SQLite Dialect = "sqlite"
	MySQL  Dialect = "mysql"
)

// DB wraps a database/sql handle together with its dialect
type DB struct {
	SQL     *sql.DB
	dialect Dialect
}

// Open connects to the database and creates the schema if it does not exist yet
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
	case MySQL:
		driver = "mysql"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if dialect == SQLite {
		// One connection keeps in-memory databases alive and serializes writers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{SQL: sqlDB, dialect: dialect}
	if err := db.EnsureSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates any missing tables
func (db *DB) EnsureSchema(ctx context.Context) error {
	statements := sqliteSchema
	if db.dialect == MySQL {
		statements = mysqlSchema
	}

	for _, stmt := range statements {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Dialect returns the SQL flavour of the database
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database
func (db *DB) Close() error {
	return db.SQL.Close()
}

// Ping verifies database connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

func (db *DB) upsertCollaboratorQuery() string {
	if db.dialect == MySQL {
		return `
			INSERT INTO workspace_collaborators (workspace_id, user_id, role, added_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE role = VALUES(role)
		`
	}
	return `
		INSERT INTO workspace_collaborators (workspace_id, user_id, role, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role
	`
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT
	}

	return false
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		description        TEXT NOT NULL,
		language           TEXT NOT NULL,
		code               TEXT NOT NULL,
		owner_id           TEXT NOT NULL,
		is_public          INTEGER NOT NULL,
		view_password_hash TEXT,
		edit_password_hash TEXT,
		version            INTEGER NOT NULL,
		last_edited_by     TEXT,
		last_edited_at     INTEGER,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workspaces_owner_id ON workspaces(owner_id)`,
	`CREATE TABLE IF NOT EXISTS workspace_collaborators (
		workspace_id TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		role         TEXT NOT NULL,
		added_at     INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_collaborators_user_id ON workspace_collaborators(user_id)`,
	`CREATE TABLE IF NOT EXISTS workspace_history (
		workspace_id TEXT NOT NULL,
		version      INTEGER NOT NULL,
		code         TEXT NOT NULL,
		edited_by    TEXT NOT NULL,
		edited_at    INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, version)
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            VARCHAR(36) PRIMARY KEY,
		email         VARCHAR(255) NOT NULL UNIQUE,
		display_name  VARCHAR(100) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at    BIGINT NOT NULL,
		updated_at    BIGINT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id                 VARCHAR(36) PRIMARY KEY,
		title              VARCHAR(255) NOT NULL,
		description        TEXT NOT NULL,
		language           VARCHAR(64) NOT NULL,
		code               LONGTEXT NOT NULL,
		owner_id           VARCHAR(36) NOT NULL,
		is_public          TINYINT(1) NOT NULL,
		view_password_hash VARCHAR(255) NULL,
		edit_password_hash VARCHAR(255) NULL,
		version            BIGINT NOT NULL,
		last_edited_by     VARCHAR(36) NULL,
		last_edited_at     BIGINT NULL,
		created_at         BIGINT NOT NULL,
		updated_at         BIGINT NOT NULL,
		INDEX idx_workspaces_owner_id (owner_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS workspace_collaborators (
		workspace_id VARCHAR(36) NOT NULL,
		user_id      VARCHAR(36) NOT NULL,
		role         VARCHAR(16) NOT NULL,
		added_at     BIGINT NOT NULL,
		PRIMARY KEY (workspace_id, user_id),
		INDEX idx_workspace_collaborators_user_id (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS workspace_history (
		workspace_id VARCHAR(36) NOT NULL,
		version      BIGINT NOT NULL,
		code         LONGTEXT NOT NULL,
		edited_by    VARCHAR(36) NOT NULL,
		edited_at    BIGINT NOT NULL,
		PRIMARY KEY (workspace_id, version)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
