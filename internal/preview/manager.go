/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"diagview/internal/layout"
	applog "diagview/internal/log"
	"diagview/internal/render"
)

// ErrAlreadyOpen is returned by Open for a document that has a preview.
var ErrAlreadyOpen = errors.New("preview already open")

// StateStore persists view states between sessions.
type StateStore interface {
	LoadViewState(ctx context.Context, doc string) (layout.State, bool, error)
	SaveViewState(ctx context.Context, doc string, st layout.State) error
}

// Manager is the registry of open previews. A nil StateStore disables
// persistence.
type Manager struct {
	renderer render.Renderer
	store    StateStore
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex
	previews map[DocumentID]*Preview
}

func NewManager(r render.Renderer, store StateStore, opts Options) *Manager {
	return &Manager{
		renderer: r,
		store:    store,
		opts:     opts,
		log:      applog.WithComponent("preview.manager"),
		previews: map[DocumentID]*Preview{},
	}
}

// Open creates the preview for id and restores its stored view state.
func (m *Manager) Open(ctx context.Context, id DocumentID, host Host) (*Preview, error) {
	m.mu.Lock()
	if _, ok := m.previews[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyOpen)
	}
	p := New(id, host, m.renderer, m.opts)
	m.previews[id] = p
	m.mu.Unlock()

	if m.store != nil {
		st, ok, err := m.store.LoadViewState(ctx, string(id))
		switch {
		case err != nil:
			m.log.Warn("load view state", slog.String("doc", string(id)), slog.Any("err", err))
		case ok:
			p.Restore(st)
		}
	}
	return p, nil
}

// Get returns the open preview for id.
func (m *Manager) Get(id DocumentID) (*Preview, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.previews[id]
	return p, ok
}

// IDs lists the open documents in sorted order.
func (m *Manager) IDs() []DocumentID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]DocumentID, 0, len(m.previews))
	for id := range m.previews {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close persists the view state of id and closes its preview. Closing an
// unknown document is a no-op.
func (m *Manager) Close(ctx context.Context, id DocumentID) error {
	m.mu.Lock()
	p, ok := m.previews[id]
	delete(m.previews, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	err := m.persist(ctx, p)
	p.Close()
	return err
}

// CloseAll closes every preview, saving their states concurrently. A failed
// save does not stop the others; all failures are returned joined.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	all := m.previews
	m.previews = map[DocumentID]*Preview{}
	m.mu.Unlock()

	var (
		g    errgroup.Group
		emu  sync.Mutex
		errs []error
	)
	g.SetLimit(4)
	for _, p := range all {
		g.Go(func() error {
			defer p.Close()
			if err := m.persist(ctx, p); err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Flush saves the view state of every open preview without closing them.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Preview, 0, len(m.previews))
	for _, p := range m.previews {
		all = append(all, p)
	}
	m.mu.Unlock()
	var errs []error
	for _, p := range all {
		if err := m.persist(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) persist(ctx context.Context, p *Preview) error {
	if m.store == nil {
		return nil
	}
	st, ok := p.Snapshot()
	if !ok {
		return nil
	}
	if !st.Finite() {
		m.log.Warn("view state not saved: non-finite layout",
			slog.String("doc", string(p.ID())), slog.Float64("scale", st.Scale),
			slog.Float64("x", st.X), slog.Float64("y", st.Y))
		return nil
	}
	if err := m.store.SaveViewState(ctx, string(p.ID()), st); err != nil {
		return fmt.Errorf("save view state %s: %w", p.ID(), err)
	}
	return nil
}
