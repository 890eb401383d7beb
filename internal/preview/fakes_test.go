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
	"fmt"
	"sync"
	"testing"
	"time"

	"diagview/internal/layout"
	"diagview/internal/render"
)

const waitFor = 2 * time.Second

type statusEvent struct {
	status Status
	detail string
}

// fakeHost records what a display surface would show.
type fakeHost struct {
	mu       sync.Mutex
	mode     layout.Mode
	center   bool
	identity bool
	scale    float64
	display  layout.Size
	pos      layout.Point
	images   []string
	statuses chan statusEvent
}

func newFakeHost() *fakeHost { return &fakeHost{statuses: make(chan statusEvent, 64)} }

func (h *fakeHost) SetIsCenter(c bool) {
	h.mu.Lock()
	h.center = c
	h.mu.Unlock()
}

func (h *fakeHost) SetIsIdentity(i bool) {
	h.mu.Lock()
	h.identity = i
	h.mu.Unlock()
}

func (h *fakeHost) SetScaleMode(m layout.Mode) {
	h.mu.Lock()
	h.mode = m
	h.mu.Unlock()
}

func (h *fakeHost) SetImagePosition(x, y float64) {
	h.mu.Lock()
	h.pos = layout.Point{X: x, Y: y}
	h.mu.Unlock()
}

func (h *fakeHost) SetImageDisplaySize(w, hh float64) {
	h.mu.Lock()
	h.display = layout.Size{W: w, H: hh}
	h.mu.Unlock()
}

func (h *fakeHost) SetImageScale(s float64) {
	h.mu.Lock()
	h.scale = s
	h.mu.Unlock()
}

func (h *fakeHost) ShowImage(res render.Result) {
	h.mu.Lock()
	h.images = append(h.images, string(res.Data))
	h.mu.Unlock()
}

func (h *fakeHost) ShowStatus(s Status, detail string) { h.statuses <- statusEvent{s, detail} }

func (h *fakeHost) lastImage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.images) == 0 {
		return ""
	}
	return h.images[len(h.images)-1]
}

func (h *fakeHost) imageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.images)
}

type shown struct {
	mode     layout.Mode
	center   bool
	identity bool
	scale    float64
	display  layout.Size
	pos      layout.Point
}

func (h *fakeHost) view() shown {
	h.mu.Lock()
	defer h.mu.Unlock()
	return shown{h.mode, h.center, h.identity, h.scale, h.display, h.pos}
}

func (h *fakeHost) expect(t *testing.T, want Status) string {
	t.Helper()
	select {
	case ev := <-h.statuses:
		if ev.status != want {
			t.Fatalf("status = %v (%q), want %v", ev.status, ev.detail, want)
		}
		return ev.detail
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for status %v", want)
		return ""
	}
}

// gateRenderer blocks each render until the test releases its source. A
// source "WxH" renders to an image of that size.
type gateRenderer struct {
	mu    sync.Mutex
	gates map[string]chan error
	calls chan string
}

func newGateRenderer() *gateRenderer {
	return &gateRenderer{gates: map[string]chan error{}, calls: make(chan string, 64)}
}

func (g *gateRenderer) gate(src string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[src]
	if !ok {
		ch = make(chan error, 1)
		g.gates[src] = ch
	}
	return ch
}

func (g *gateRenderer) release(src string, err error) { g.gate(src) <- err }

func (g *gateRenderer) Render(ctx context.Context, src []byte, _ func(func())) (render.Result, error) {
	g.calls <- string(src)
	select {
	case err := <-g.gate(string(src)):
		if err != nil {
			return render.Result{}, err
		}
	case <-ctx.Done():
		return render.Result{}, ctx.Err()
	}
	var w, h float64
	if _, err := fmt.Sscanf(string(src), "%gx%g", &w, &h); err != nil {
		return render.Result{}, err
	}
	return render.Result{Data: append([]byte(nil), src...), Format: "svg", Size: layout.Size{W: w, H: h}}, nil
}

func (g *gateRenderer) expectCall(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-g.calls:
		if got != want {
			t.Fatalf("render call %q, want %q", got, want)
		}
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for render of %q", want)
	}
}

// instant renders every "WxH" source immediately.
func instant() render.Renderer {
	return render.Func(func(_ context.Context, src []byte, _ func(func())) (render.Result, error) {
		var w, h float64
		if _, err := fmt.Sscanf(string(src), "%gx%g", &w, &h); err != nil {
			return render.Result{}, err
		}
		return render.Result{Data: append([]byte(nil), src...), Format: "svg", Size: layout.Size{W: w, H: h}}, nil
	})
}

type memStore struct {
	mu     sync.Mutex
	states map[string]layout.State
	fail   map[string]error // per-document save failures
}

func newMemStore() *memStore {
	return &memStore{states: map[string]layout.State{}, fail: map[string]error{}}
}

func (m *memStore) LoadViewState(_ context.Context, doc string) (layout.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[doc]
	return st, ok, nil
}

func (m *memStore) SaveViewState(ctx context.Context, doc string, st layout.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[doc]; err != nil {
		return err
	}
	m.states[doc] = st
	return nil
}
