// Package audit keeps an append-only SQLite log of handled scans.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds audit log settings.
type Config struct {
	Path       string `yaml:"path"`       // empty disables the audit log
	Duplicates bool   `yaml:"duplicates"` // also record suppressed repeats
}

// Open opens (creating if needed) the audit database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit dir: %w", err)
	}

	// Per-connection PRAGMAs: WAL so readers (sqlite3 CLI) don't block the
	// daemon, busy_timeout to ride out their locks.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		uriPath(path),
	)
	return openDSN(ctx, dsn)
}

// uriPath escapes path for an SQLite URI filename so that '?', '#' and
// '%' in it are not read as URI syntax.
func uriPath(path string) string {
	return (&url.URL{Path: path}).EscapedPath()
}

func openDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
