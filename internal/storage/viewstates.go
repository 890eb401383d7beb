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
	"time"

	"diagview/internal/layout"
	"diagview/internal/preview"
)

var _ preview.StateStore = (*Index)(nil)

// LoadViewState returns the stored view state of doc. Rows that fail
// validation are reported as errors, not silently dropped.
func (x *Index) LoadViewState(ctx context.Context, doc string) (layout.State, bool, error) {
	var raw string
	err := x.db.QueryRowContext(ctx, `SELECT state_json FROM view_states WHERE doc=?`, doc).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return layout.State{}, false, nil
	}
	if err != nil {
		return layout.State{}, false, fmt.Errorf("query view state: %w", err)
	}
	st, err := layout.DecodeState([]byte(raw))
	if err != nil {
		return layout.State{}, false, fmt.Errorf("%s: %w", doc, err)
	}
	return st, true, nil
}

// SaveViewState upserts the view state of doc.
func (x *Index) SaveViewState(ctx context.Context, doc string, st layout.State) error {
	b, err := layout.EncodeState(st)
	if err != nil {
		return err
	}
	_, err = x.db.ExecContext(ctx, `INSERT INTO view_states(doc, state_json, updated_at) VALUES(?,?,?)
		ON CONFLICT(doc) DO UPDATE SET state_json=excluded.state_json, updated_at=excluded.updated_at`,
		doc, string(b), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert view state: %w", err)
	}
	return nil
}

// DeleteViewState forgets the view state of doc.
func (x *Index) DeleteViewState(ctx context.Context, doc string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM view_states WHERE doc=?`, doc); err != nil {
		return fmt.Errorf("delete view state: %w", err)
	}
	return nil
}
