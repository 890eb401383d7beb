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

package ui

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"diagview/internal/export"
	"diagview/internal/layout"
	"diagview/internal/preview"
	"diagview/internal/render"
)

// ViewState is what the canvas currently displays.
type ViewState struct {
	Mode     layout.Mode
	Center   bool
	Identity bool
	Scale    float64
	Pos      layout.Point
	Display  layout.Size
}

// PreviewCanvas shows one rendered diagram positioned by the layout engine.
// It implements preview.Host; drag pans, double tap toggles 100% at the
// pointer and the wheel zooms around the pointer.
type PreviewCanvas struct {
	widget.BaseWidget

	mu       sync.Mutex
	view     ViewState
	resource fyne.Resource
	result   render.Result
	bg       color.Color
	target   Gestures
	reported fyne.Size
	dragging bool

	// OnStatus and OnViewChanged run on the fyne goroutine.
	OnStatus      func(s preview.Status, detail string)
	OnViewChanged func(ViewState)
}

var _ preview.Host = (*PreviewCanvas)(nil)

func NewPreviewCanvas(bg color.Color) *PreviewCanvas {
	if bg == nil {
		bg = color.White
	}
	pc := &PreviewCanvas{bg: bg, view: ViewState{Scale: 1}}
	pc.ExtendBaseWidget(pc)
	return pc
}

// Bind connects gestures and viewport reports to g.
func (p *PreviewCanvas) Bind(g Gestures) {
	p.mu.Lock()
	p.target = g
	p.reported = fyne.Size{}
	p.mu.Unlock()
	p.refreshLater()
}

// View returns a copy of the displayed state.
func (p *PreviewCanvas) View() ViewState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Result returns the image currently shown.
func (p *PreviewCanvas) Result() (render.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.resource != nil
}

// Host calls arrive on preview goroutines with the preview locked.
func (p *PreviewCanvas) refreshLater() {
	fyne.Do(func() {
		p.Refresh()
		if p.OnViewChanged != nil {
			p.OnViewChanged(p.View())
		}
	})
}

func (p *PreviewCanvas) update(fn func(v *ViewState)) {
	p.mu.Lock()
	fn(&p.view)
	p.mu.Unlock()
	p.refreshLater()
}

func (p *PreviewCanvas) SetIsCenter(center bool) {
	p.update(func(v *ViewState) { v.Center = center })
}

func (p *PreviewCanvas) SetIsIdentity(identity bool) {
	p.update(func(v *ViewState) { v.Identity = identity })
}

func (p *PreviewCanvas) SetScaleMode(mode layout.Mode) {
	p.update(func(v *ViewState) { v.Mode = mode })
}

func (p *PreviewCanvas) SetImagePosition(x, y float64) {
	p.update(func(v *ViewState) { v.Pos = layout.Point{X: x, Y: y} })
}

func (p *PreviewCanvas) SetImageDisplaySize(width, height float64) {
	p.update(func(v *ViewState) { v.Display = layout.Size{W: width, H: height} })
}

func (p *PreviewCanvas) SetImageScale(scale float64) {
	p.update(func(v *ViewState) { v.Scale = scale })
}

func (p *PreviewCanvas) ShowImage(res render.Result) {
	p.mu.Lock()
	p.result = res
	p.resource = fyne.NewStaticResource("diagram"+export.Extension(res.Format), res.Data)
	p.mu.Unlock()
	p.refreshLater()
}

func (p *PreviewCanvas) ShowStatus(s preview.Status, detail string) {
	fyne.Do(func() {
		if p.OnStatus != nil {
			p.OnStatus(s, detail)
		}
	})
}

func (p *PreviewCanvas) gestures() Gestures {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// reportViewport forwards a size change to the bound preview. It must be
// called without p.mu held. A canvas that has not been sized yet reports nothing.
func (p *PreviewCanvas) reportViewport(size fyne.Size) {
	if size.Width <= 0 || size.Height <= 0 {
		return
	}
	p.mu.Lock()
	g := p.target
	changed := g != nil && size != p.reported
	if changed {
		p.reported = size
	}
	p.mu.Unlock()
	if changed {
		g.ViewportChanged(float64(size.Width), float64(size.Height))
	}
}

func (p *PreviewCanvas) Dragged(e *fyne.DragEvent) {
	g := p.gestures()
	if g == nil {
		return
	}
	if !p.dragging {
		p.dragging = true
		g.StartDrag(float64(e.Position.X-e.Dragged.DX), float64(e.Position.Y-e.Dragged.DY))
	}
	g.ContinueDrag(float64(e.Position.X), float64(e.Position.Y))
}

func (p *PreviewCanvas) DragEnd() { p.dragging = false }

func (p *PreviewCanvas) DoubleTapped(e *fyne.PointEvent) {
	if g := p.gestures(); g != nil {
		g.ToggleIsIdentityAt(float64(e.Position.X), float64(e.Position.Y))
	}
}

// Scrolled zooms around the pointer.
func (p *PreviewCanvas) Scrolled(e *fyne.ScrollEvent) {
	g := p.gestures()
	if g == nil || e.Scrolled.DY == 0 {
		return
	}
	g.SetScaleAt(float64(e.Position.X), float64(e.Position.Y), g.Scale()*scrollFactor(e.Scrolled.DY))
}

// MinSize keeps the canvas usable in small windows.
func (p *PreviewCanvas) MinSize() fyne.Size { return fyne.NewSize(200, 150) }

func (p *PreviewCanvas) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(p.bg)
	img := &canvas.Image{FillMode: canvas.ImageFillStretch, ScaleMode: canvas.ImageScaleSmooth}
	img.Hide()
	return &previewCanvasRenderer{pc: p, bg: bg, img: img, objects: []fyne.CanvasObject{bg, img}}
}

type previewCanvasRenderer struct {
	pc      *PreviewCanvas
	bg      *canvas.Rectangle
	img     *canvas.Image
	shown   fyne.Resource
	objects []fyne.CanvasObject
}

func (r *previewCanvasRenderer) Destroy()                     {}
func (r *previewCanvasRenderer) Objects() []fyne.CanvasObject { return r.objects }
func (r *previewCanvasRenderer) MinSize() fyne.Size           { return r.pc.MinSize() }
func (r *previewCanvasRenderer) Refresh()                     { r.Layout(r.pc.Size()); canvas.Refresh(r.pc) }

func (r *previewCanvasRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	r.bg.Move(fyne.NewPos(0, 0))

	// Layout setters triggered by the viewport report are applied below.
	r.pc.reportViewport(size)

	r.pc.mu.Lock()
	v := r.pc.view
	res := r.pc.resource
	r.pc.mu.Unlock()

	if res == nil {
		r.img.Hide()
		return
	}
	if res != r.shown {
		r.shown = res
		r.img.Resource = res
		r.img.Refresh()
	}
	r.img.Move(fyne.NewPos(float32(v.Pos.X), float32(v.Pos.Y)))
	r.img.Resize(fyne.NewSize(float32(v.Display.W), float32(v.Display.H)))
	r.img.Show()
}
