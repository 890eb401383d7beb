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

// View receives the observable layout values. The engine calls a setter only
// when its value differs from the previous call of that same setter, and always
// synchronously within the operation that caused the change.
type View interface {
	SetIsCenter(center bool)
	SetIsIdentity(identity bool)
	SetScaleMode(mode Mode)
	SetImagePosition(x, y float64)
	SetImageDisplaySize(width, height float64)
	SetImageScale(scale float64)
}

// observed is everything a View can see, derived from engine state.
type observed struct {
	mode     Mode
	center   bool
	identity bool
	scale    float64
	display  Size
	pos      Point
}

func (o observed) pushAll(v View) {
	v.SetScaleMode(o.mode)
	v.SetIsCenter(o.center)
	v.SetIsIdentity(o.identity)
	v.SetImageScale(o.scale)
	v.SetImageDisplaySize(o.display.W, o.display.H)
	v.SetImagePosition(o.pos.X, o.pos.Y)
}

// pushChanged emits only the values that differ between before and o.
func (o observed) pushChanged(v View, before observed) {
	if o.mode != before.mode {
		v.SetScaleMode(o.mode)
	}
	if o.center != before.center {
		v.SetIsCenter(o.center)
	}
	if o.identity != before.identity {
		v.SetIsIdentity(o.identity)
	}
	if !same(o.scale, before.scale) {
		v.SetImageScale(o.scale)
	}
	if !same(o.display.W, before.display.W) || !same(o.display.H, before.display.H) {
		v.SetImageDisplaySize(o.display.W, o.display.H)
	}
	if !same(o.pos.X, before.pos.X) || !same(o.pos.Y, before.pos.Y) {
		v.SetImagePosition(o.pos.X, o.pos.Y)
	}
}
