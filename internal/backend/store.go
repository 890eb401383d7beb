/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// StoredRender is one cached image as kept by the server.
type StoredRender struct {
	Format string
	Width  float64
	Height float64
	Data   []byte
}

// Stats summarizes the shared cache.
type Stats struct {
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Hits    int64 `json:"hits"`
}

// Store is the persistence behind the server.
type Store interface {
	GetRender(ctx context.Context, key string) (StoredRender, bool, error)
	PutRender(ctx context.Context, key, subject string, r StoredRender) error
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// PGStore keeps renders in PostgreSQL through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

// OpenPG connects to dsn and applies migrations.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(ctx, db, logger()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) GetRender(ctx context.Context, key string) (StoredRender, bool, error) {
	var r StoredRender
	row := s.db.QueryRowContext(ctx, `UPDATE renders SET last_access = now(), hits = hits + 1
		WHERE key = $1 RETURNING format, width, height, data`, key)
	switch err := row.Scan(&r.Format, &r.Width, &r.Height, &r.Data); {
	case errors.Is(err, sql.ErrNoRows):
		return StoredRender{}, false, nil
	case err != nil:
		return StoredRender{}, false, fmt.Errorf("select render: %w", err)
	}
	return r, true, nil
}

func (s *PGStore) PutRender(ctx context.Context, key, subject string, r StoredRender) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO renders(key, format, width, height, data, size, subject)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET format = EXCLUDED.format, width = EXCLUDED.width, height = EXCLUDED.height,
			data = EXCLUDED.data, size = EXCLUDED.size, subject = EXCLUDED.subject, last_access = now()`,
		key, r.Format, r.Width, r.Height, r.Data, len(r.Data), subject)
	if err != nil {
		return fmt.Errorf("upsert render: %w", err)
	}
	return nil
}

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(hits), 0) FROM renders`).
		Scan(&st.Entries, &st.Bytes, &st.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
