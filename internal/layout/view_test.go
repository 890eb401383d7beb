/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package layout

import (
	"testing"
)

// viewState is what a host would be displaying after applying every setter call.
type viewState struct {
	Mode     Mode
	Center   bool
	Identity bool
	Scale    float64
	Display  Size
	Pos      Point
}

// recordingView is a View fake that accumulates state and fails the test when
// a setter is called with the value it already holds.
type recordingView struct {
	t     *testing.T
	state viewState
	seen  map[string]bool
	calls map[string]int
}

func newRecordingView(t *testing.T) *recordingView {
	return &recordingView{t: t, seen: map[string]bool{}, calls: map[string]int{}}
}

func (r *recordingView) note(name string, repeated bool) {
	r.t.Helper()
	if r.seen[name] && repeated {
		r.t.Errorf("%s called with unchanged value %+v", name, r.state)
	}
	r.seen[name] = true
	r.calls[name]++
}

func (r *recordingView) SetIsCenter(center bool) {
	r.note("SetIsCenter", r.state.Center == center)
	r.state.Center = center
}

func (r *recordingView) SetIsIdentity(identity bool) {
	r.note("SetIsIdentity", r.state.Identity == identity)
	r.state.Identity = identity
}

func (r *recordingView) SetScaleMode(mode Mode) {
	r.note("SetScaleMode", r.state.Mode == mode)
	r.state.Mode = mode
}

func (r *recordingView) SetImagePosition(x, y float64) {
	r.note("SetImagePosition", same(r.state.Pos.X, x) && same(r.state.Pos.Y, y))
	r.state.Pos = Point{X: x, Y: y}
}

func (r *recordingView) SetImageDisplaySize(width, height float64) {
	r.note("SetImageDisplaySize", same(r.state.Display.W, width) && same(r.state.Display.H, height))
	r.state.Display = Size{W: width, H: height}
}

func (r *recordingView) SetImageScale(scale float64) {
	r.note("SetImageScale", same(r.state.Scale, scale))
	r.state.Scale = scale
}

func (r *recordingView) resetCalls() { r.calls = map[string]int{} }

// checkReplay asserts that the live view equals a view rebuilt from scratch.
func checkReplay(t *testing.T, e *Engine, live *recordingView, step string) {
	t.Helper()
	fresh := newRecordingView(t)
	e.InitializeView(fresh)
	if fresh.state != live.state {
		t.Fatalf("%s: live view %+v differs from replay %+v", step, live.state, fresh.state)
	}
}
