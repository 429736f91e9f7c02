// Package storage opens the SQLite databases the node stubs keep their
// accounts and directories in.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (creating if needed) the SQLite database at dbPath.
// Writers take the lock at BEGIN so read-check-write transactions never
// interleave, and wait up to five seconds for a busy database.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		// Expand ~ in path
		if strings.HasPrefix(dbPath, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			dbPath = filepath.Join(home, dbPath[1:])
		}

		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = "file:" + dbPath
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	if dbPath == MemoryPath {
		// Every pooled connection to :memory: would be a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	return db, nil
}

// GenerateID creates a new unique ID
func GenerateID() string {
	return uuid.New().String()
}
