/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	applog "diagview/internal/log"
	"diagview/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema.
	// Bump this when you perform breaking schema changes and add migrations.
	schemaVersion = 2
)

// Index is an open cache database.
type Index struct {
	db       *sql.DB
	path     string
	maxBytes int64
	log      *slog.Logger
}

// IndexPath returns the full path to the cache database inside dir.
func IndexPath(dir string) string {
	return filepath.Join(dir, IndexFileName)
}

// Open ensures that the SQLite cache exists in dir, opens it, enables WAL mode
// and brings the schema up to date. maxBytes caps the stored render data;
// zero means MaxBytesFromEnv.
func Open(dir string, maxBytes int64) (*Index, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_open").With(
		slog.String("dir", dir),
	)
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.Error("create cache dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := IndexPath(dir)
	// Use a URI with shared cache and set busy timeout. Convert to forward slashes for SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Set reasonable connection pool limits for embedded usage.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = MaxBytesFromEnv()
	}
	l.Info("index ready", slog.String("path", path))
	return &Index{db: db, path: path, maxBytes: maxBytes, log: applog.WithComponent("storage")}, nil
}

// OpenOrRecover opens the cache and, when the file is unreadable or fails an
// integrity check, moves it to backups/ and starts from an empty cache.
func OpenOrRecover(ctx context.Context, dir string, maxBytes int64) (*Index, bool, error) {
	path := IndexPath(dir)
	idx, err := Open(dir, maxBytes)
	if err == nil {
		var chk string
		if qerr := idx.db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); qerr == nil && strings.EqualFold(strings.TrimSpace(chk), "ok") {
			return idx, false, nil
		}
		_ = idx.Close()
	}
	backupIndexFile(path)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
	idx, err = Open(dir, maxBytes)
	if err != nil {
		return nil, false, fmt.Errorf("recreate cache: %w", err)
	}
	idx.log.Warn("cache database recreated", slog.String("path", path))
	return idx, true, nil
}

// Close releases the database.
func (x *Index) Close() error { return x.db.Close() }

// Path returns the database file path.
func (x *Index) Path() string { return x.path }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	// Seed or update single-row version info
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// Update app and timestamp only; keep existing schema for migrations
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS renders (
			key          TEXT PRIMARY KEY,
			format       TEXT    NOT NULL,
			w            REAL    NOT NULL DEFAULT 0,
			h            REAL    NOT NULL DEFAULT 0,
			data         BLOB    NOT NULL,
			size         INTEGER NOT NULL DEFAULT 0,
			updated_at   TEXT    NOT NULL,
			last_access  INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS view_states (
			doc         TEXT PRIMARY KEY,
			state_json  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_renders_access ON renders(last_access);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// upgrades[n] moves the schema from version n+1 to n+2. Fresh databases get
// the current schema from ensureSchema, so every step must be idempotent.
var upgrades = [][]string{
	// 1 -> 2: LRU eviction scans by access time.
	{`CREATE INDEX IF NOT EXISTS idx_renders_access ON renders(last_access);`},
}

// runMigrations steps the recorded schema version up to schemaVersion. A file
// written by a newer build is left alone.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur < 1 {
		return fmt.Errorf("invalid schema version %d", cur)
	}
	for ; cur < schemaVersion; cur++ {
		if err := upgrade(ctx, db, cur+1, upgrades[cur-1]); err != nil {
			return err
		}
	}
	return nil
}

func upgrade(ctx context.Context, db *sql.DB, to int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", to, err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migration %d: %w", to, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, to, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("migration %d update version: %w", to, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d commit: %w", to, err)
	}
	return nil
}

// keepBackups bounds the number of damaged index files kept in backups/.
const keepBackups = 3

// backupIndexFile copies the index file into backups/ under a timestamped name
// and prunes the oldest copies beyond keepBackups.
func backupIndexFile(indexPath string) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return
	}
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return
	}
	stamp := time.Now().Format("20060102-150405.000")
	_ = os.WriteFile(filepath.Join(bdir, filepath.Base(indexPath)+"."+stamp+".bak"), data, 0o644)

	old, _ := filepath.Glob(filepath.Join(bdir, filepath.Base(indexPath)+".*.bak"))
	sort.Strings(old)
	for len(old) > keepBackups {
		_ = os.Remove(old[0])
		old = old[1:]
	}
}
