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
	"testing"
	"time"

	"diagview/internal/layout"
	"diagview/internal/render"
)

func TestFirstImageCreatesLayout(t *testing.T) {
	h := newFakeHost()
	p := New("doc", h, instant(), Options{Mode: layout.ModeFit, MaxRunning: 2})
	p.ViewportChanged(200, 100)
	p.Render([]byte("100x100"))
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)

	got := h.view()
	want := shown{mode: layout.ModeFit, center: true, scale: 1, display: layout.Size{W: 100, H: 100}, pos: layout.Point{X: 50, Y: 0}}
	if got != want {
		t.Fatalf("view = %+v, want %+v", got, want)
	}
	if res, ok := p.Result(); !ok || string(res.Data) != "100x100" {
		t.Fatalf("Result() = %q, %v", res.Data, ok)
	}
}

func TestImageSizeChangeUpdatesLayout(t *testing.T) {
	h := newFakeHost()
	p := New("doc", h, instant(), Options{Mode: layout.ModeFit, MaxRunning: 1})
	p.ViewportChanged(200, 100)
	p.Render([]byte("100x100"))
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)
	p.Render([]byte("400x100"))
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)
	if got := h.view(); got.scale != 0.5 || got.display != (layout.Size{W: 200, H: 50}) {
		t.Fatalf("view after resize = %+v", got)
	}
}

func TestNewestCompletionWins(t *testing.T) {
	h := newFakeHost()
	g := newGateRenderer()
	p := New("doc", h, g, Options{Mode: layout.ModeFixed, Center: true, MaxRunning: 2})
	p.ViewportChanged(100, 100)
	p.Render([]byte("10x10"))
	g.expectCall(t, "10x10")
	p.Render([]byte("20x20"))
	g.expectCall(t, "20x20")
	h.expect(t, StatusRendering)
	h.expect(t, StatusRendering)

	g.release("20x20", nil)
	h.expect(t, StatusReady)
	g.release("10x10", nil)
	time.Sleep(50 * time.Millisecond)
	if h.imageCount() != 1 || h.lastImage() != "20x20" {
		t.Fatalf("images shown: %d, last %q", h.imageCount(), h.lastImage())
	}
}

func TestRenderErrorShowsDiagnostics(t *testing.T) {
	h := newFakeHost()
	g := newGateRenderer()
	p := New("doc", h, g, Options{MaxRunning: 1})
	p.Render([]byte("bad"))
	h.expect(t, StatusRendering)
	g.release("bad", &render.Error{Engine: "graphviz", Diagnostics: "syntax error in line 1", Err: errors.New("exit status 1")})
	if detail := h.expect(t, StatusError); detail != "syntax error in line 1" {
		t.Fatalf("detail = %q", detail)
	}
	if _, ok := p.Result(); ok {
		t.Fatalf("no image expected")
	}
}

func TestRenderTimeout(t *testing.T) {
	h := newFakeHost()
	g := newGateRenderer()
	p := New("doc", h, g, Options{MaxRunning: 1, Timeout: 20 * time.Millisecond})
	p.Render([]byte("10x10"))
	h.expect(t, StatusRendering)
	if detail := h.expect(t, StatusError); detail != "render timed out" {
		t.Fatalf("detail = %q", detail)
	}
}

func TestSourceChangedIsDebounced(t *testing.T) {
	h := newFakeHost()
	g := newGateRenderer()
	p := New("doc", h, g, Options{MaxRunning: 2, Debounce: 30 * time.Millisecond})
	for _, src := range []string{"1x1", "2x2", "3x3"} {
		p.SourceChanged([]byte(src))
	}
	g.expectCall(t, "3x3")
	select {
	case extra := <-g.calls:
		t.Fatalf("unexpected render of %q", extra)
	case <-time.After(80 * time.Millisecond):
	}
	g.release("3x3", nil)
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)
}

func TestRestoreAppliesToFirstImage(t *testing.T) {
	h := newFakeHost()
	p := New("doc", h, instant(), Options{Mode: layout.ModeFit, MaxRunning: 1})
	p.ViewportChanged(100, 100)
	p.Restore(layout.State{Mode: "fixed", Scale: 2, X: 5, Y: 6})
	if st, ok := p.Snapshot(); !ok || st.Scale != 2 {
		t.Fatalf("snapshot before image = %+v, %v", st, ok)
	}
	p.Render([]byte("10x10"))
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)
	got := h.view()
	if got.mode != layout.ModeFixed || got.scale != 2 || got.pos != (layout.Point{X: 5, Y: 6}) {
		t.Fatalf("restored view = %+v", got)
	}
}

func TestGesturesBeforeFirstImage(t *testing.T) {
	h := newFakeHost()
	p := New("doc", h, instant(), Options{Mode: layout.ModeFit, Center: true, MaxRunning: 1})
	p.ViewportChanged(100, 100)
	p.ToggleIsCenter()
	p.SetScale(3)
	p.StartDrag(1, 1)
	p.ContinueDrag(5, 5)
	if p.Scale() != 0 {
		t.Fatalf("scale before image should be 0")
	}
	p.SwitchMode(layout.ModeAutoFit)
	p.Render([]byte("50x50"))
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)
	if got := h.view(); got.mode != layout.ModeAutoFit || !got.identity || got.pos != (layout.Point{X: 25, Y: 25}) {
		t.Fatalf("view = %+v", got)
	}
}

func TestGesturesDriveLayout(t *testing.T) {
	h := newFakeHost()
	p := New("doc", h, instant(), Options{Mode: layout.ModeFixed, Center: true, MaxRunning: 1})
	p.ViewportChanged(100, 100)
	p.Render([]byte("40x40"))
	h.expect(t, StatusRendering)
	h.expect(t, StatusReady)

	p.StartDrag(50, 50)
	p.ContinueDrag(60, 45)
	if got := h.view(); got.center || got.pos != (layout.Point{X: 40, Y: 25}) {
		t.Fatalf("after drag = %+v", got)
	}
	p.SetScaleAt(40, 25, 2)
	if got := h.view(); got.scale != 2 || got.pos != (layout.Point{X: 40, Y: 25}) {
		t.Fatalf("after anchored zoom = %+v", got)
	}
	p.ToggleIsCenter()
	if got := h.view(); !got.center || got.pos != (layout.Point{X: 10, Y: 10}) {
		t.Fatalf("after center = %+v", got)
	}
	p.SwitchMode(layout.ModeFit)
	if got := h.view(); got.mode != layout.ModeFit || got.scale != 2.5 {
		t.Fatalf("after fit = %+v", got)
	}
}

func TestCloseDropsResults(t *testing.T) {
	h := newFakeHost()
	g := newGateRenderer()
	p := New("doc", h, g, Options{MaxRunning: 1})
	p.Render([]byte("10x10"))
	g.expectCall(t, "10x10")
	h.expect(t, StatusRendering)
	p.Close()
	h.expect(t, StatusClosed)
	p.Close()
	p.Render([]byte("20x20"))
	select {
	case ev := <-h.statuses:
		t.Fatalf("unexpected status after close: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if h.imageCount() != 0 {
		t.Fatalf("image shown after close")
	}
}

func TestCanceledRenderIsNotReported(t *testing.T) {
	h := newFakeHost()
	p := New("doc", h, render.Func(func(ctx context.Context, _ []byte, _ func(func())) (render.Result, error) {
		<-ctx.Done()
		return render.Result{}, ctx.Err()
	}), Options{MaxRunning: 1})
	p.Render([]byte("x"))
	h.expect(t, StatusRendering)
	p.Close()
	h.expect(t, StatusClosed)
	select {
	case ev := <-h.statuses:
		t.Fatalf("unexpected status %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
