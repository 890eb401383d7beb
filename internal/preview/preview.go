/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package preview drives one live diagram preview per open document: it
// schedules renders of the latest source, shows the winning image and keeps a
// layout engine in sync with the host's viewport and user gestures.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"diagview/internal/layout"
	applog "diagview/internal/log"
	"diagview/internal/render"
	"diagview/internal/schedule"
)

// DocumentID identifies an open document, usually its path.
type DocumentID string

// Status is what the host shows next to the image.
type Status int

const (
	StatusIdle Status = iota
	StatusRendering
	StatusReady
	StatusError
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusRendering:
		return "rendering"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Host is the display surface. All calls happen with the preview's lock held,
// so a Host must not call back into its Preview synchronously.
type Host interface {
	layout.View
	ShowImage(res render.Result)
	ShowStatus(s Status, detail string)
}

// Options configure a preview.
type Options struct {
	Mode       layout.Mode
	Center     bool
	MaxRunning int
	// Debounce delays SourceChanged renders; zero renders immediately.
	Debounce time.Duration
	// Timeout bounds a single render; zero means no limit.
	Timeout time.Duration
}

// Preview is the controller for one document.
type Preview struct {
	id       DocumentID
	host     Host
	renderer render.Renderer
	sched    *schedule.Scheduler[render.Result]
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex
	engine   *layout.Engine
	viewport layout.Size
	restored *layout.State
	drag     layout.Drag
	last     render.Result
	hasLast  bool
	timer    *time.Timer
	closed   bool
}

// New creates a preview. Nothing is rendered until SourceChanged or Render.
func New(id DocumentID, host Host, r render.Renderer, opts Options) *Preview {
	return &Preview{
		id:       id,
		host:     host,
		renderer: r,
		sched:    schedule.New[render.Result](opts.MaxRunning),
		opts:     opts,
		log:      applog.WithDocument(applog.WithComponent("preview"), string(id)),
	}
}

// ID returns the document this preview belongs to.
func (p *Preview) ID() DocumentID { return p.id }

// Restore sets the view state applied when the first image arrives.
// It has no effect once an image is shown.
func (p *Preview) Restore(st layout.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		s := st
		p.restored = &s
	}
}

// SourceChanged schedules a render of src after the debounce interval.
// A later call within the interval supersedes this one.
func (p *Preview) SourceChanged(src []byte) {
	if p.opts.Debounce <= 0 {
		p.Render(src)
		return
	}
	buf := append([]byte(nil), src...)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.opts.Debounce, func() { p.Render(buf) })
}

// Render schedules a render of src right away.
func (p *Preview) Render(src []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.host.ShowStatus(StatusRendering, "")
	p.mu.Unlock()

	inner, timeout, doc := render.Task(p.renderer, src), p.opts.Timeout, string(p.id)
	task := func(ctx context.Context, onCancel func(func())) (render.Result, error) {
		ctx = applog.ContextWithDocument(ctx, doc)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return inner(ctx, onCancel)
	}
	p.sched.Schedule(task, p.resolved, p.rejected)
}

func (p *Preview) resolved(res render.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.last, p.hasLast = res, true
	p.host.ShowImage(res)
	if p.engine == nil {
		p.engine = layout.New(p.host, p.initialParams(res.Size))
		p.restored = nil
	} else {
		p.engine.OnImageSizeChanged(p.host, res.Size.W, res.Size.H)
	}
	p.host.ShowStatus(StatusReady, "")
	p.log.Debug("image shown", slog.String("format", res.Format),
		slog.Float64("w", res.Size.W), slog.Float64("h", res.Size.H))
}

func (p *Preview) initialParams(image layout.Size) layout.Params {
	if p.restored != nil {
		params, err := p.restored.Params(p.viewport, image)
		if err == nil {
			return params
		}
		p.log.Warn("ignoring stored view state", slog.Any("err", err))
	}
	return layout.Params{Viewport: p.viewport, Image: image, Mode: p.opts.Mode, Center: p.opts.Center}
}

func (p *Preview) rejected(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	detail := err.Error()
	var rerr *render.Error
	switch {
	case errors.As(err, &rerr) && rerr.Diagnostics != "":
		detail = rerr.Diagnostics
	case errors.Is(err, context.DeadlineExceeded):
		detail = "render timed out"
	}
	p.host.ShowStatus(StatusError, detail)
	p.log.Info("render failed", slog.Any("err", err))
}

// Result returns the image currently shown.
func (p *Preview) Result() (render.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

// Snapshot returns the current view state. Before the first image it returns
// the state passed to Restore, if any.
func (p *Preview) Snapshot() (layout.State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine != nil {
		return p.engine.Snapshot(), true
	}
	if p.restored != nil {
		return *p.restored, true
	}
	return layout.State{}, false
}

// Close cancels outstanding renders and tells the host. It is idempotent.
func (p *Preview) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.host.ShowStatus(StatusClosed, "")
	p.mu.Unlock()
	p.sched.Close()
}

// withEngine runs fn with the engine under the lock when an image is shown.
func (p *Preview) withEngine(fn func(e *layout.Engine, v layout.View)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.engine == nil {
		return
	}
	fn(p.engine, p.host)
}

// ViewportChanged reports a new viewport size.
func (p *Preview) ViewportChanged(width, height float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = layout.Size{W: width, H: height}
	if !p.closed && p.engine != nil {
		p.engine.OnViewSizeChanged(p.host, width, height)
	}
}

func (p *Preview) ToggleIsCenter() {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.ToggleIsCenter(v) })
}

func (p *Preview) ToggleIsIdentity() {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.ToggleIsIdentity(v) })
}

// ToggleIsIdentityAt toggles 100% keeping the image point under (x, y) fixed.
func (p *Preview) ToggleIsIdentityAt(x, y float64) {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.ToggleIsIdentityAt(v, x, y) })
}

// SwitchMode changes the display mode. Before the first image it changes the
// mode used for that image instead.
func (p *Preview) SwitchMode(m layout.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.engine == nil {
		p.opts.Mode = m
		if p.restored != nil {
			p.restored.Mode = m.String()
		}
		return
	}
	switch m {
	case layout.ModeFit:
		p.engine.SwitchToFitLayout(p.host)
	case layout.ModeAutoFit:
		p.engine.SwitchToAutoFitLayout(p.host)
	default:
		p.engine.SwitchToFixedLayout(p.host)
	}
}

func (p *Preview) MoveTo(x, y float64) {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.MoveTo(v, x, y) })
}

// StartDrag begins a drag gesture at pointer position (x, y).
func (p *Preview) StartDrag(x, y float64) {
	p.withEngine(func(e *layout.Engine, _ layout.View) { p.drag = e.StartDrag(x, y) })
}

// ContinueDrag moves the image with the pointer.
func (p *Preview) ContinueDrag(x, y float64) {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.ContinueDrag(v, p.drag, x, y) })
}

func (p *Preview) SetScale(scale float64) {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.SetScale(v, scale) })
}

// SetScaleAt zooms keeping the image point under (x, y) fixed.
func (p *Preview) SetScaleAt(x, y, scale float64) {
	p.withEngine(func(e *layout.Engine, v layout.View) { e.SetScaleAt(v, x, y, scale) })
}

// Scale returns the effective scale, or 0 before the first image.
func (p *Preview) Scale() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return 0
	}
	return p.engine.Scale()
}
