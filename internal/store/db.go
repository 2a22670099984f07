package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the per-profile chatsync.db.
// It holds the transition journal and the settings cache; neither survives a
// daemon restart (see Reset).
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Reset discards everything recorded by a previous daemon run.
func (db *DB) Reset() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, stmt := range []string{
		`DELETE FROM transitions`,
		`DELETE FROM sqlite_sequence WHERE name = 'transitions'`,
		`DELETE FROM conversation_settings`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset: %w", err)
		}
	}
	return tx.Commit()
}
