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
	"strconv"
	"strings"
	"time"

	"diagview/internal/layout"
	"diagview/internal/render"
)

var _ render.Cache = (*Index)(nil)

// EnvMaxBytes caps the total size of cached render data.
const EnvMaxBytes = "DGV_CACHE_MAX_BYTES"

const defaultMaxBytes = 256 * 1024 * 1024 // 256MB

// Get returns the cached render for key and marks it as recently used.
func (x *Index) Get(ctx context.Context, key string) (render.Result, bool, error) {
	var (
		res  render.Result
		w, h float64
	)
	err := x.db.QueryRowContext(ctx, `SELECT format, w, h, data FROM renders WHERE key=?`, key).Scan(&res.Format, &w, &h, &res.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return render.Result{}, false, nil
	}
	if err != nil {
		return render.Result{}, false, fmt.Errorf("query render: %w", err)
	}
	res.Size = layout.Size{W: w, H: h}
	res.Key = key
	// touch
	_, _ = x.db.ExecContext(ctx, `UPDATE renders SET last_access=? WHERE key=?`, time.Now().UnixNano(), key)
	return res, true, nil
}

// Put upserts a render and enforces the size cap via LRU eviction.
func (x *Index) Put(ctx context.Context, key string, res render.Result) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("render key is required")
	}
	now := time.Now()
	_, err := x.db.ExecContext(ctx, `INSERT INTO renders(key,format,w,h,data,size,updated_at,last_access)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET format=excluded.format, w=excluded.w, h=excluded.h, data=excluded.data,
			size=excluded.size, updated_at=excluded.updated_at, last_access=excluded.last_access`,
		key, res.Format, res.Size.W, res.Size.H, res.Data, len(res.Data), now.UTC().Format(time.RFC3339), now.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert render: %w", err)
	}
	if x.maxBytes > 0 {
		if err := x.EvictToFit(ctx, x.maxBytes); err != nil {
			return err
		}
	}
	return nil
}

// EvictToFit deletes least-recently-used renders until the total size is at
// most capBytes.
func (x *Index) EvictToFit(ctx context.Context, capBytes int64) error {
	total, err := x.TotalBytes(ctx)
	if err != nil {
		return err
	}
	if total <= capBytes {
		return nil
	}
	rows, err := x.db.QueryContext(ctx, `SELECT key, size FROM renders ORDER BY last_access ASC, key ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	toDelete := make([]any, 0, 32)
	cur := total
	for rows.Next() {
		var key string
		var sz int64
		if err := rows.Scan(&key, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		toDelete = append(toDelete, key)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// Important: close the rows cursor before attempting to write
	if err := rows.Close(); err != nil {
		return err
	}
	if len(toDelete) == 0 {
		return nil
	}
	q := `DELETE FROM renders WHERE key IN (?` + strings.Repeat(",?", len(toDelete)-1) + `)`
	if _, err := x.db.ExecContext(ctx, q, toDelete...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	x.log.Debug("renders evicted", slog.Int("count", len(toDelete)), slog.Int64("cap", capBytes))
	return nil
}

// TotalBytes returns the total size of cached render data.
func (x *Index) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := x.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM renders`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum render size: %w", err)
	}
	return total, nil
}

// Purge removes every cached render; view states are kept.
func (x *Index) Purge(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM renders`); err != nil {
		return fmt.Errorf("purge renders: %w", err)
	}
	return nil
}

// MaxBytesFromEnv reads DGV_CACHE_MAX_BYTES, defaulting to 256MB if unset.
func MaxBytesFromEnv() int64 {
	v := os.Getenv(EnvMaxBytes)
	if v == "" {
		return defaultMaxBytes
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultMaxBytes
	}
	return n
}
