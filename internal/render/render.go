/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package render turns diagram source into an image. Renderers are plain
// collaborators of a preview: they run one compile per call, honour
// cancellation and report compiler diagnostics as *Error.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"diagview/internal/layout"
	"diagview/internal/schedule"
)

// Result is one rendered image.
type Result struct {
	Data   []byte
	Format string // svg, png, jpeg, gif, bmp, tiff or webp
	Size   layout.Size
	Key    string
}

// Error is a compiler failure. Diagnostics carries what the compiler printed.
type Error struct {
	Engine      string
	Diagnostics string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Engine + ": render failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if d := strings.TrimSpace(e.Diagnostics); d != "" {
		msg += "\n" + d
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrEmptyOutput is reported when a compiler succeeded but produced nothing.
var ErrEmptyOutput = errors.New("empty output")

// Renderer compiles src into an image. onCancel may be nil; when set the
// renderer registers actions to run once the result is no longer wanted.
type Renderer interface {
	Render(ctx context.Context, src []byte, onCancel func(action func())) (Result, error)
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, src []byte, onCancel func(action func())) (Result, error)

func (f Func) Render(ctx context.Context, src []byte, onCancel func(action func())) (Result, error) {
	return f(ctx, src, onCancel)
}

// Keyer is implemented by renderers whose output depends on more than the
// source, e.g. the engine and its arguments.
type Keyer interface {
	KeyFor(src []byte) string
}

// Key is the content key of a render: sha256 over engine, args and source.
func Key(engine string, args []string, src []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", engine)
	for _, a := range args {
		fmt.Fprintf(h, "%s\x00", a)
	}
	h.Write([]byte{0})
	h.Write(src)
	return hex.EncodeToString(h.Sum(nil))
}

func keyOf(r Renderer, src []byte) string {
	if k, ok := r.(Keyer); ok {
		return k.KeyFor(src)
	}
	return Key("", nil, src)
}

// Task binds a renderer and a source snapshot into a schedulable task.
func Task(r Renderer, src []byte) schedule.Task[Result] {
	buf := append([]byte(nil), src...)
	return func(ctx context.Context, onCancel func(func())) (Result, error) {
		return r.Render(ctx, buf, onCancel)
	}
}

// finish measures data and fills in the result metadata.
func finish(engine, key string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, &Error{Engine: engine, Err: ErrEmptyOutput}
	}
	format, size, err := Measure(data)
	if err != nil {
		return Result{}, &Error{Engine: engine, Err: err}
	}
	return Result{Data: data, Format: format, Size: size, Key: key}, nil
}
