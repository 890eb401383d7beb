/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"diagview/internal/layout"
	"diagview/internal/preview"
	"diagview/internal/render"
)

// logHost is a preview surface without a window. It logs every layout change
// and prints one line per finished render.
type logHost struct {
	log *slog.Logger
	out io.Writer

	mu     sync.Mutex
	result render.Result
	status preview.Status
}

var _ preview.Host = (*logHost)(nil)

func newLogHost(l *slog.Logger, out io.Writer) *logHost {
	return &logHost{log: l, out: out}
}

func (h *logHost) SetIsCenter(center bool) { h.log.Info("center", slog.Bool("on", center)) }
func (h *logHost) SetIsIdentity(identity bool) {
	h.log.Info("identity", slog.Bool("on", identity))
}
func (h *logHost) SetScaleMode(mode layout.Mode) { h.log.Info("mode", slog.String("mode", mode.String())) }
func (h *logHost) SetImageScale(scale float64)   { h.log.Info("scale", slog.Float64("scale", scale)) }

func (h *logHost) SetImagePosition(x, y float64) {
	h.log.Debug("position", slog.Float64("x", x), slog.Float64("y", y))
}

func (h *logHost) SetImageDisplaySize(width, height float64) {
	h.log.Info("display size", slog.Float64("w", width), slog.Float64("h", height))
}

func (h *logHost) ShowImage(res render.Result) {
	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
	fmt.Fprintf(h.out, "rendered %s %gx%g (%d bytes)\n", res.Format, res.Size.W, res.Size.H, len(res.Data))
}

func (h *logHost) ShowStatus(s preview.Status, detail string) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
	if s == preview.StatusError {
		fmt.Fprintf(h.out, "error: %s\n", detail)
		return
	}
	h.log.Debug("status", slog.String("status", s.String()))
}

// Last returns the most recent image and status.
func (h *logHost) Last() (render.Result, preview.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.status
}
