// Package migrate keeps the run history schema current. Schema steps are
// embedded SQL files applied in file-name order; each applied file is
// recorded in schema_migrations by name.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed sql/history/*.sql
var historyFS embed.FS

const historyDir = "sql/history"

// MigrateHistory opens the history database at dbPath and applies pending
// steps. It returns the versions applied by this call.
func MigrateHistory(dbPath string) ([]string, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return Apply(db)
}

// Apply brings an open history database up to date and returns the versions
// it applied, oldest first. A current database yields an empty slice.
func Apply(db *sql.DB) ([]string, error) {
	return upgrade(db, historyFS, historyDir)
}

// Applied lists the versions recorded in db, oldest first.
func Applied(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func upgrade(db *sql.DB, fsys fs.FS, dir string) ([]string, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	steps, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list schema steps: %w", err)
	}
	slices.Sort(steps)

	done, err := Applied(db)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	for _, step := range steps {
		version := path.Base(step)
		if slices.Contains(done, version) {
			continue
		}
		body, err := fs.ReadFile(fsys, step)
		if err != nil {
			return applied, fmt.Errorf("failed to read %s: %w", version, err)
		}
		if err := applyStep(db, version, string(body)); err != nil {
			return applied, fmt.Errorf("migration %s failed: %w", version, err)
		}
		applied = append(applied, version)
	}
	return applied, nil
}

// applyStep runs one step and records it in the same transaction, so a
// failed step leaves neither schema changes nor a version row behind.
func applyStep(db *sql.DB, version, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("empty schema step")
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}
