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
	"errors"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"diagview/internal/preview"
)

// Options configure the desktop preview window.
type Options struct {
	// Path is the document to preview and watch.
	Path string
	// Manager owns the preview sessions; Run closes them when the window closes.
	Manager *preview.Manager
	// Background fills the area around the image.
	Background color.Color
	// CrashDir receives crash reports; the temp dir when empty.
	CrashDir string
}

// ErrUnavailable is returned by Run in binaries built without the desktop UI.
var ErrUnavailable = errors.New("ui: desktop preview not built into this binary")

// document checks the options and returns the absolute document path.
func (o Options) document() (string, error) {
	if o.Manager == nil {
		return "", errors.New("ui: no preview manager")
	}
	if strings.TrimSpace(o.Path) == "" {
		return "", errors.New("ui: no document to preview")
	}
	return filepath.Abs(o.Path)
}

// Gestures is the part of a preview the canvas drives. *preview.Preview
// implements it.
type Gestures interface {
	ViewportChanged(width, height float64)
	ToggleIsIdentityAt(x, y float64)
	StartDrag(x, y float64)
	ContinueDrag(x, y float64)
	SetScaleAt(x, y, scale float64)
	Scale() float64
}

var _ Gestures = (*preview.Preview)(nil)

// zoomPerPixel converts scroll distance to a scale factor: one wheel notch
// (10 units) zooms by about 10%.
const zoomPerPixel = 0.01

// scrollFactor is the scale multiplier for a vertical scroll of dy.
func scrollFactor(dy float32) float64 { return math.Exp(float64(dy) * zoomPerPixel) }

// StatusText is the one-line status shown under the preview.
func StatusText(s preview.Status, detail string) string {
	detail = strings.TrimSpace(detail)
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		detail = strings.TrimSpace(detail[:i]) + " …"
	}
	switch s {
	case preview.StatusRendering:
		return "Rendering…"
	case preview.StatusReady:
		if detail != "" {
			return "Ready: " + detail
		}
		return "Ready"
	case preview.StatusError:
		if detail != "" {
			return "Error: " + detail
		}
		return "Error"
	case preview.StatusClosed:
		return "Closed"
	}
	return "Idle"
}
