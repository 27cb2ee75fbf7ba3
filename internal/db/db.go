package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDBName        = "shiftline.db"
	defaultBusyTimeoutMS = 5000
	defaultMaxOpenConns  = 8
)

type Config struct {
	Workspace string
	// Path overrides the workspace-derived database location.
	Path          string
	BusyTimeoutMS int
	MaxOpenConns  int
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".shiftline", defaultDBName)
}

// EnsureWorkspace creates the .shiftline directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".shiftline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// DSN builds the modernc sqlite connection string. Writers take the write
// lock at BEGIN (_txlock=immediate) so concurrent units of work serialise
// on the busy timeout instead of failing mid-transaction on lock upgrade.
func DSN(path string, busyTimeoutMS int) string {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = defaultBusyTimeoutMS
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busyTimeoutMS)
}

// Open opens the SQLite database, creating the workspace directory when needed.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		path = dbPath(cfg.Workspace)
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(path, cfg.BusyTimeoutMS))
	if err != nil {
		return nil, err
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)
	conn.SetConnMaxLifetime(time.Hour)
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
