/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	applog "diagview/internal/log"
)

// Exec renders by piping the source through a compiler process: source on
// stdin, image on stdout, diagnostics on stderr.
type Exec struct {
	Engine  string
	Command string
	Args    []string
	Env     []string // appended to the inherited environment
	Dir     string
	// WaitDelay bounds how long a cancelled process may keep its pipes open.
	WaitDelay time.Duration
}

var presets = map[string]Exec{
	"graphviz": {Engine: "graphviz", Command: "dot", Args: []string{"-Tsvg"}},
	"plantuml": {Engine: "plantuml", Command: "plantuml", Args: []string{"-tsvg", "-pipe", "-charset", "UTF-8"}},
	"mermaid":  {Engine: "mermaid", Command: "mmdc", Args: []string{"--input", "-", "--output", "-", "--outputFormat", "svg", "--quiet"}},
	"d2":       {Engine: "d2", Command: "d2", Args: []string{"-", "-"}},
	"pikchr":   {Engine: "pikchr", Command: "pikchr", Args: []string{"--svg-only", "-"}},
}

// Engines lists the engine names Preset knows.
func Engines() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Preset returns the default compiler invocation for an engine. "dot" is
// accepted as an alias of graphviz.
func Preset(engine string) (*Exec, error) {
	name := strings.ToLower(strings.TrimSpace(engine))
	if name == "dot" {
		name = "graphviz"
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (known: %s)", engine, strings.Join(Engines(), ", "))
	}
	p.Args = append([]string(nil), p.Args...)
	return &p, nil
}

// KeyFor implements Keyer.
func (e *Exec) KeyFor(src []byte) string {
	return Key(e.Engine+"|"+e.Command, e.Args, src)
}

// Render runs the compiler once. Cancelling ctx or firing the scheduler's
// cancel actions kills the process.
func (e *Exec) Render(ctx context.Context, src []byte, onCancel func(action func())) (Result, error) {
	l := applog.WithOperation(applog.WithComponent("render"), "exec")
	ctx, stop := context.WithCancel(applog.ContextWithEngine(ctx, e.Engine))
	defer stop()
	if onCancel != nil {
		onCancel(stop)
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		l.DebugContext(ctx, "render cancelled")
		return Result{}, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, &Error{Engine: e.Engine, Diagnostics: stderr.String(), Err: err}
		}
		return Result{}, fmt.Errorf("run %s: %w", e.Command, err)
	}
	res, err := finish(e.Engine, e.KeyFor(src), stdout.Bytes())
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) && rerr.Diagnostics == "" {
			rerr.Diagnostics = stderr.String()
		}
		return Result{}, err
	}
	l.DebugContext(ctx, "rendered",
		slog.String("format", res.Format),
		slog.Int("bytes", len(res.Data)),
		slog.Duration("took", time.Since(start)),
	)
	return res, nil
}
