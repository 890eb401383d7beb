/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package layout tracks where a rendered image sits inside the preview viewport
// and how large it is drawn. The Engine is a deterministic state machine over the
// three display modes (fixed, fit, auto-fit). Every operation recomputes the
// observable values from stored fields and reports only the values that changed
// to a View.
//
// The Engine is not safe for concurrent use; confine it to one goroutine or guard
// it with a lock (see internal/preview).
package layout

// state is the mode-specific part of the engine: one of fixedState, fitState
// or autoFitState.
type state interface{ mode() Mode }

// fixedState is the user-controlled layout. scale is the remembered explicit
// scale; it is in effect only while identity is false. pos is meaningful only
// while center is false.
type fixedState struct {
	center   bool
	identity bool
	scale    float64
	pos      Point
}

// savedFixed remembers a fixed layout while a fitting mode is active, together
// with the display size its position was recorded at.
type savedFixed struct {
	fixed   fixedState
	display Size
}

type fitState struct{ saved *savedFixed }

type autoFitState struct{ saved *savedFixed }

func (fixedState) mode() Mode   { return ModeFixed }
func (fitState) mode() Mode     { return ModeFit }
func (autoFitState) mode() Mode { return ModeAutoFit }

func (f fixedState) effectiveScale() float64 {
	if f.identity {
		return 1
	}
	return f.scale
}

// Params describes the initial engine state.
//
// For ModeFixed the Center/Identity/Scale/Position fields are the fixed layout.
// For ModeFit and ModeAutoFit they are remembered as the layout to return to
// when switching back to fixed, provided Scale is non-zero.
type Params struct {
	Viewport Size
	Image    Size
	Mode     Mode
	Center   bool
	Identity bool
	Scale    float64
	Position Point
}

// Engine is the layout state machine.
type Engine struct {
	viewport Size
	image    Size
	st       state
}

// New creates an engine from p and pushes the complete initial state to v.
func New(v View, p Params) *Engine {
	e := &Engine{viewport: p.Viewport, image: p.Image}
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	f := fixedState{center: p.Center, identity: p.Identity, scale: scale, pos: p.Position}
	switch p.Mode {
	case ModeFit:
		e.st = fitState{saved: e.initialSaved(p, f)}
	case ModeAutoFit:
		e.st = autoFitState{saved: e.initialSaved(p, f)}
	default:
		e.st = f
	}
	if v != nil {
		e.InitializeView(v)
	}
	return e
}

func (e *Engine) initialSaved(p Params, f fixedState) *savedFixed {
	if p.Scale == 0 {
		return nil
	}
	return e.save(f)
}

// InitializeView pushes every observable value to v, regardless of what v saw
// before. Calling it twice on fresh views yields identical call sequences.
func (e *Engine) InitializeView(v View) {
	e.observe().pushAll(v)
}

// Mode returns the active display mode.
func (e *Engine) Mode() Mode { return e.st.mode() }

// Viewport returns the last reported viewport size.
func (e *Engine) Viewport() Size { return e.viewport }

// Image returns the last reported image size.
func (e *Engine) Image() Size { return e.image }

// Scale returns the scale currently in effect.
func (e *Engine) Scale() float64 { return e.observe().scale }

// Position returns the current top-left image position.
func (e *Engine) Position() Point { return e.observe().pos }

// DisplaySize returns the on-screen size of the image.
func (e *Engine) DisplaySize() Size { return e.observe().display }

func (e *Engine) observe() observed {
	switch s := e.st.(type) {
	case fixedState:
		sc := s.effectiveScale()
		disp := e.image.Scaled(sc)
		pos := s.pos
		if s.center {
			pos = Centered(e.viewport, disp)
		}
		return observed{mode: ModeFixed, center: s.center, identity: s.identity, scale: sc, display: disp, pos: pos}
	case fitState:
		sc := FitScale(e.viewport, e.image)
		disp := e.image.Scaled(sc)
		return observed{mode: ModeFit, center: true, scale: sc, display: disp, pos: Centered(e.viewport, disp)}
	case autoFitState:
		id := FitsAtIdentity(e.viewport, e.image)
		sc := 1.0
		if !id {
			sc = FitScale(e.viewport, e.image)
		}
		disp := e.image.Scaled(sc)
		return observed{mode: ModeAutoFit, center: true, identity: id, scale: sc, display: disp, pos: Centered(e.viewport, disp)}
	}
	panic("layout: unknown state")
}

// transition runs fn and reports the observable differences to v.
func (e *Engine) transition(v View, fn func(before observed)) {
	before := e.observe()
	fn(before)
	if v != nil {
		e.observe().pushChanged(v, before)
	}
}

func (e *Engine) save(f fixedState) *savedFixed {
	return &savedFixed{fixed: f, display: e.image.Scaled(f.effectiveScale())}
}

// saved returns the remembered fixed layout of a fitting mode, or nil.
func (e *Engine) saved() *savedFixed {
	switch s := e.st.(type) {
	case fitState:
		return s.saved
	case autoFitState:
		return s.saved
	}
	return nil
}

// restore rebuilds a remembered fixed layout. An explicit position is rescaled
// by the change of display size since it was recorded.
func (e *Engine) restore(s *savedFixed) fixedState {
	f := s.fixed
	if !f.center {
		disp := e.image.Scaled(f.effectiveScale())
		f.pos = Point{X: f.pos.X * (disp.W / s.display.W), Y: f.pos.Y * (disp.H / s.display.H)}
	}
	return f
}

// freeze converts what a fitting mode currently shows into a centered fixed
// layout. Identity stays structural; the remembered scale comes from the saved
// layout if there is one.
func (e *Engine) freeze(before observed) fixedState {
	f := fixedState{center: true, identity: before.identity, scale: before.scale, pos: before.pos}
	if before.identity {
		f.scale = e.rememberedScale(1)
	}
	return f
}

func (e *Engine) rememberedScale(fallback float64) float64 {
	if s := e.saved(); s != nil {
		return s.fixed.scale
	}
	return fallback
}

// OnViewSizeChanged records a new viewport size.
func (e *Engine) OnViewSizeChanged(v View, width, height float64) {
	e.transition(v, func(observed) {
		e.viewport = Size{W: width, H: height}
	})
}

// OnImageSizeChanged records a new image size. An explicit fixed position is
// rescaled proportionally so the same relative anchor stays in place.
func (e *Engine) OnImageSizeChanged(v View, width, height float64) {
	e.transition(v, func(observed) {
		if f, ok := e.st.(fixedState); ok && !f.center {
			f.pos = Point{X: f.pos.X * (width / e.image.W), Y: f.pos.Y * (height / e.image.H)}
			e.st = f
		}
		e.image = Size{W: width, H: height}
	})
}

// ToggleIsCenter switches a fixed layout between derived (centered) and explicit
// position. From a fitting mode it leaves into fixed with the current position
// made explicit.
func (e *Engine) ToggleIsCenter(v View) {
	e.transition(v, func(before observed) {
		switch s := e.st.(type) {
		case fixedState:
			if s.center {
				s.center = false
				s.pos = before.pos
			} else {
				s.center = true
			}
			e.st = s
		case fitState, autoFitState:
			f := e.freeze(before)
			f.center = false
			e.st = f
		}
	})
}

// toggledIdentity is the fixed layout ToggleIsIdentity moves to, before any
// position adjustment.
func (e *Engine) toggledIdentity(before observed) fixedState {
	switch s := e.st.(type) {
	case fixedState:
		s.identity = !s.identity
		return s
	case fitState:
		return fixedState{center: true, identity: true, scale: e.rememberedScale(before.scale)}
	case autoFitState:
		if before.identity {
			return fixedState{center: true, identity: false, scale: e.rememberedScale(FitScale(e.viewport, e.image))}
		}
		return fixedState{center: true, identity: true, scale: e.rememberedScale(before.scale)}
	}
	panic("layout: unknown state")
}

// ToggleIsIdentity flips between 100% and the remembered scale. An explicit
// position is divided or multiplied by that scale.
func (e *Engine) ToggleIsIdentity(v View) {
	e.transition(v, func(before observed) {
		f := e.toggledIdentity(before)
		if _, wasFixed := e.st.(fixedState); wasFixed && !f.center {
			if f.identity {
				f.pos = Point{X: f.pos.X / f.scale, Y: f.pos.Y / f.scale}
			} else {
				f.pos = Point{X: f.pos.X * f.scale, Y: f.pos.Y * f.scale}
			}
		}
		e.st = f
	})
}

// ToggleIsIdentityAt is ToggleIsIdentity with (x, y) kept fixed on screen.
func (e *Engine) ToggleIsIdentityAt(v View, x, y float64) {
	e.transition(v, func(before observed) {
		f := e.toggledIdentity(before)
		next := f.effectiveScale()
		f.center = false
		f.pos = Point{
			X: ZoomAnchored(x, before.scale, next, before.pos.X),
			Y: ZoomAnchored(y, before.scale, next, before.pos.Y),
		}
		e.st = f
	})
}

// SwitchToFixedLayout returns to the remembered fixed layout, or freezes the
// current view when none is remembered.
func (e *Engine) SwitchToFixedLayout(v View) {
	e.transition(v, func(before observed) {
		if _, ok := e.st.(fixedState); ok {
			return
		}
		if s := e.saved(); s != nil {
			e.st = e.restore(s)
			return
		}
		e.st = e.freeze(before)
	})
}

// SwitchToFitLayout always fits the image into the viewport.
func (e *Engine) SwitchToFitLayout(v View) {
	e.transition(v, func(observed) {
		switch s := e.st.(type) {
		case fixedState:
			e.st = fitState{saved: e.save(s)}
		case autoFitState:
			e.st = fitState{saved: s.saved}
		}
	})
}

// SwitchToAutoFitLayout fits the image only when it does not fit at 100%.
func (e *Engine) SwitchToAutoFitLayout(v View) {
	e.transition(v, func(observed) {
		switch s := e.st.(type) {
		case fixedState:
			e.st = autoFitState{saved: e.save(s)}
		case fitState:
			e.st = autoFitState{saved: s.saved}
		}
	})
}

// MoveTo sets an explicit image position. The layout becomes fixed with the
// scale in effect at this instant.
func (e *Engine) MoveTo(v View, x, y float64) {
	e.transition(v, func(before observed) {
		var f fixedState
		switch s := e.st.(type) {
		case fixedState:
			f = s
		default:
			f = e.freeze(before)
		}
		f.center = false
		f.pos = Point{X: x, Y: y}
		e.st = f
	})
}

// Drag holds the offset between the pointer and the image position at the
// start of a drag gesture.
type Drag struct {
	Offset Point
}

// StartDrag begins a drag gesture with the pointer at (x, y).
func (e *Engine) StartDrag(x, y float64) Drag {
	pos := e.observe().pos
	return Drag{Offset: Point{X: pos.X - x, Y: pos.Y - y}}
}

// ContinueDrag moves the image so it follows the pointer now at (x, y).
func (e *Engine) ContinueDrag(v View, d Drag, x, y float64) {
	e.MoveTo(v, d.Offset.X+x, d.Offset.Y+y)
}

// SetScale zooms to scale. The result is never identity, even for scale 1.
// An explicit position is scaled around the viewport origin.
func (e *Engine) SetScale(v View, scale float64) {
	e.transition(v, func(before observed) {
		s, ok := e.st.(fixedState)
		if !ok {
			e.st = fixedState{center: true, scale: scale}
			return
		}
		s.identity = false
		s.scale = scale
		if !s.center {
			s.pos = Point{
				X: ZoomAnchored(0, before.scale, scale, s.pos.X),
				Y: ZoomAnchored(0, before.scale, scale, s.pos.Y),
			}
		}
		e.st = s
	})
}

// SetScaleAt zooms to scale keeping (x, y) fixed on screen.
func (e *Engine) SetScaleAt(v View, x, y, scale float64) {
	e.transition(v, func(before observed) {
		e.st = fixedState{
			center: false,
			scale:  scale,
			pos: Point{
				X: ZoomAnchored(x, before.scale, scale, before.pos.X),
				Y: ZoomAnchored(y, before.scale, scale, before.pos.Y),
			},
		}
	})
}
