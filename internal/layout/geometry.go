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
	"fmt"
	"math"
	"strings"
)

// Size is a width/height pair in viewport units.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a position in viewport coordinates. For the image it is the top-left corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Scaled returns the size multiplied by f on both axes.
func (s Size) Scaled(f float64) Size { return Size{W: s.W * f, H: s.H * f} }

// Mode is the active display mode. Exactly one is active at a time.
type Mode int

const (
	ModeFixed Mode = iota
	ModeFit
	ModeAutoFit
)

func (m Mode) String() string {
	switch m {
	case ModeFixed:
		return "fixed"
	case ModeFit:
		return "fit"
	case ModeAutoFit:
		return "autofit"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names produced by Mode.String (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return ModeFixed, nil
	case "fit":
		return ModeFit, nil
	case "autofit", "auto-fit", "auto_fit":
		return ModeAutoFit, nil
	}
	return ModeFixed, fmt.Errorf("unknown layout mode %q", s)
}

// FitScale is the largest scale at which the whole image fits in the viewport.
// Zero-sized images yield +Inf or NaN; callers get that value unchanged.
func FitScale(viewport, image Size) float64 {
	return math.Min(viewport.W/image.W, viewport.H/image.H)
}

// FitsAtIdentity reports whether the image fits the viewport at 100%.
func FitsAtIdentity(viewport, image Size) bool {
	return image.W <= viewport.W && image.H <= viewport.H
}

// ZoomAnchored returns the new coordinate of old so that anchor stays fixed on
// screen when the scale changes from oldScale to newScale.
func ZoomAnchored(anchor, oldScale, newScale, old float64) float64 {
	return anchor - (anchor-old)*(newScale/oldScale)
}

// Centered returns the top-left position that centers display in viewport.
func Centered(viewport, display Size) Point {
	return Point{X: (viewport.W - display.W) / 2, Y: (viewport.H - display.H) / 2}
}

// same is exact float equality, except that NaN equals NaN so degenerate
// geometry does not re-emit on every call.
func same(a, b float64) bool {
	return a == b || (a != a && b != b)
}
