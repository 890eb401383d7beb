//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// These tests need the Fyne dependencies; they are gated behind the "fyne"
// build tag so CI does not need a display.
//
//	go test -tags fyne ./internal/ui
package ui

import (
	"testing"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"

	"diagview/internal/layout"
	"diagview/internal/render"
)

type fakeGestures struct {
	viewports [][2]float64
	starts    [][2]float64
	moves     [][2]float64
	toggles   int
	scaleAt   []float64
	scale     float64
}

func (f *fakeGestures) ViewportChanged(w, h float64)    { f.viewports = append(f.viewports, [2]float64{w, h}) }
func (f *fakeGestures) ToggleIsIdentityAt(x, y float64) { f.toggles++ }
func (f *fakeGestures) StartDrag(x, y float64)          { f.starts = append(f.starts, [2]float64{x, y}) }
func (f *fakeGestures) ContinueDrag(x, y float64)       { f.moves = append(f.moves, [2]float64{x, y}) }
func (f *fakeGestures) SetScaleAt(x, y, s float64)      { f.scaleAt = append(f.scaleAt, s) }
func (f *fakeGestures) Scale() float64                  { return f.scale }

func TestPreviewCanvasLaysOutImage(t *testing.T) {
	test.NewTempApp(t)
	pc := NewPreviewCanvas(nil)
	r := pc.CreateRenderer().(*previewCanvasRenderer)
	g := &fakeGestures{scale: 1}
	pc.Bind(g)

	pc.ShowImage(render.Result{Data: []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="40" height="30"/>`), Format: "svg", Size: layout.Size{W: 40, H: 30}})
	pc.SetImageDisplaySize(80, 60)
	pc.SetImagePosition(10, 20)
	r.Layout(fyne.NewSize(300, 200))

	if len(g.viewports) != 1 || g.viewports[0] != [2]float64{300, 200} {
		t.Fatalf("viewport reports = %v", g.viewports)
	}
	if pos := r.img.Position(); pos.X != 10 || pos.Y != 20 {
		t.Fatalf("image position = %v", pos)
	}
	if sz := r.img.Size(); sz.Width != 80 || sz.Height != 60 {
		t.Fatalf("image size = %v", sz)
	}
	r.Layout(fyne.NewSize(300, 200))
	if len(g.viewports) != 1 {
		t.Fatalf("unchanged size reported again: %v", g.viewports)
	}
}

func TestPreviewCanvasGestures(t *testing.T) {
	test.NewTempApp(t)
	pc := NewPreviewCanvas(nil)
	g := &fakeGestures{scale: 2}
	pc.Bind(g)

	pc.Dragged(&fyne.DragEvent{PointEvent: fyne.PointEvent{Position: fyne.NewPos(15, 15)}, Dragged: fyne.Delta{DX: 5, DY: 5}})
	pc.Dragged(&fyne.DragEvent{PointEvent: fyne.PointEvent{Position: fyne.NewPos(20, 25)}, Dragged: fyne.Delta{DX: 5, DY: 10}})
	pc.DragEnd()
	if len(g.starts) != 1 || g.starts[0] != [2]float64{10, 10} {
		t.Fatalf("drag starts = %v", g.starts)
	}
	if len(g.moves) != 2 {
		t.Fatalf("drag moves = %v", g.moves)
	}

	pc.DoubleTapped(&fyne.PointEvent{Position: fyne.NewPos(1, 1)})
	if g.toggles != 1 {
		t.Fatalf("toggles = %d", g.toggles)
	}
	pc.Scrolled(&fyne.ScrollEvent{PointEvent: fyne.PointEvent{Position: fyne.NewPos(5, 5)}, Scrolled: fyne.Delta{DY: 10}})
	if len(g.scaleAt) != 1 || g.scaleAt[0] <= 2 {
		t.Fatalf("scroll zoom = %v", g.scaleAt)
	}
}
