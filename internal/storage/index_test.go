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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"diagview/internal/layout"
	"diagview/internal/render"
)

func openTestIndex(t *testing.T, maxBytes int64) *Index {
	t.Helper()
	idx, err := Open(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestOpenCreatesSchema(t *testing.T) {
	idx := openTestIndex(t, 0)
	var schema int
	if err := idx.db.QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&schema); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if schema != schemaVersion {
		t.Fatalf("schema = %d, want %d", schema, schemaVersion)
	}
	var mode string
	if err := idx.db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil || mode != "wal" {
		t.Fatalf("journal_mode = %q, %v", mode, err)
	}
	if idx.maxBytes != defaultMaxBytes {
		t.Fatalf("maxBytes = %d", idx.maxBytes)
	}
}

func TestOpenRejectsEmptyDir(t *testing.T) {
	if _, err := Open("  ", 0); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestMigrationsUpgradeV1(t *testing.T) {
	dir := t.TempDir()
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(2000)", filepath.ToSlash(IndexPath(dir)))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL, app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version(id, schema, app, created_at, updated_at) VALUES(1, 1, 'test', '2020-01-01T00:00:00Z', '2020-01-01T00:00:00Z');`,
		`CREATE TABLE renders (key TEXT PRIMARY KEY, format TEXT NOT NULL, w REAL NOT NULL DEFAULT 0, h REAL NOT NULL DEFAULT 0, data BLOB NOT NULL, size INTEGER NOT NULL DEFAULT 0, updated_at TEXT NOT NULL, last_access INTEGER NOT NULL DEFAULT 0);`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("seed v1: %v", err)
		}
	}
	_ = db.Close()

	idx, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()
	var schema int
	if err := idx.db.QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&schema); err != nil || schema != 2 {
		t.Fatalf("schema = %d, %v", schema, err)
	}
	var name string
	if err := idx.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_renders_access'`).Scan(&name); err != nil {
		t.Fatalf("index missing after migration: %v", err)
	}
	if err := idx.SaveViewState(context.Background(), "a", layout.State{Mode: "fit"}); err != nil {
		t.Fatalf("view_states missing after migration: %v", err)
	}
}

func TestOpenOrRecoverReplacesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(IndexPath(dir), []byte("THIS IS NOT SQLITE, NOT EVEN CLOSE TO IT"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	idx, recreated, err := OpenOrRecover(ctx, dir, 0)
	if err != nil {
		t.Fatalf("OpenOrRecover: %v", err)
	}
	defer idx.Close()
	if !recreated {
		t.Fatalf("expected the cache to be recreated")
	}
	if err := idx.Put(ctx, "k", render.Result{Format: "svg", Data: []byte("<svg/>")}); err != nil {
		t.Fatalf("Put after recovery: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "backups"))
	if len(entries) == 0 {
		t.Fatalf("expected backup file")
	}
}

func TestOpenOrRecoverKeepsHealthyFile(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := idx.Put(ctx, "k", render.Result{Format: "svg", Data: []byte("<svg/>")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = idx.Close()

	idx, recreated, err := OpenOrRecover(ctx, dir, 0)
	if err != nil || recreated {
		t.Fatalf("OpenOrRecover = %v, %v", recreated, err)
	}
	defer idx.Close()
	if _, ok, _ := idx.Get(ctx, "k"); !ok {
		t.Fatalf("cached render lost")
	}
}

func TestBackupIndexFilePrunesOldCopies(t *testing.T) {
	dir := t.TempDir()
	path := IndexPath(dir)
	if err := os.WriteFile(path, []byte("damaged"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	bdir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, stamp := range []string{"20200101-000000.000", "20200102-000000.000", "20200103-000000.000"} {
		if err := os.WriteFile(filepath.Join(bdir, IndexFileName+"."+stamp+".bak"), nil, 0o644); err != nil {
			t.Fatalf("seed backup: %v", err)
		}
	}
	backupIndexFile(path)

	entries, err := os.ReadDir(bdir)
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	if len(entries) != keepBackups {
		t.Fatalf("backups = %d, want %d", len(entries), keepBackups)
	}
	if entries[0].Name() == IndexFileName+".20200101-000000.000.bak" {
		t.Fatalf("oldest backup was kept")
	}
}
