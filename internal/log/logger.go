/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package log sets up the process-wide slog logger for diagview: a readable
// console handler or JSON on stderr, an optional rotated JSON file, and a
// handler that copies the document and engine carried by a context onto each
// record.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"diagview/internal/version"
)

// Options controls logger initialization. FromEnv fills it from
//   - DGV_LOG_LEVEL=debug|info|warn|error
//   - DGV_LOG_FORMAT=console|json
//   - DGV_LOG_FILE=<path> (JSON, rotated)
//   - DGV_LOG_SOURCE=true|false
type Options struct {
	Level     string
	Format    string // "console" or "json"
	AddSource bool
	File      string
	// Writer replaces stderr for the console side.
	Writer io.Writer
}

// Rotation limits of the log file.
const (
	fileMaxSizeMB  = 10
	fileMaxBackups = 3
	fileMaxAgeDays = 28
)

var (
	mu      sync.RWMutex
	current *slog.Logger
	rotator *lj.Logger
)

// L returns the application logger, initializing it from the environment on
// first use.
func L() *slog.Logger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(FromEnv())
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Init replaces the application logger and slog.Default.
func Init(opts Options) {
	lvl := parseLevel(opts.Level)
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var console slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource})
	} else {
		console = newConsoleHandler(w, lvl, opts.AddSource)
	}
	handlers := []slog.Handler{withContextAttrs(console)}

	var file *lj.Logger
	if path := strings.TrimSpace(opts.File); path != "" {
		file = &lj.Logger{Filename: path, MaxSize: fileMaxSizeMB, MaxBackups: fileMaxBackups, MaxAge: fileMaxAgeDays, Compress: true}
		fh := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource})
		handlers = append(handlers, withContextAttrs(fh))
	}

	logger := slog.New(fanOut(handlers...)).With(
		slog.String("app", "diagview"),
		slog.String("ver", version.Version),
	)

	mu.Lock()
	old := rotator
	current, rotator = logger, file
	mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	slog.SetDefault(logger)
}

// Close releases the log file, if any. A later record reopens it.
func Close() error {
	mu.Lock()
	f := rotator
	rotator = nil
	mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// FromEnv builds Options from the DGV_LOG_* variables.
func FromEnv() Options {
	return Options{
		Level:     getenv("DGV_LOG_LEVEL", "info"),
		Format:    getenv("DGV_LOG_FORMAT", "console"),
		AddSource: strings.EqualFold(getenv("DGV_LOG_SOURCE", "false"), "true"),
		File:      os.Getenv("DGV_LOG_FILE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger with the component attribute pre-set.
func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

// WithOperation annotates the logger with an operation name.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

// WithDocument annotates the logger with the previewed document.
func WithDocument(l *slog.Logger, doc string) *slog.Logger { return l.With(slog.String("doc", doc)) }

type ctxKey int

const (
	docKey ctxKey = iota
	engineKey
)

// ContextWithDocument tags records logged with the returned context with doc.
func ContextWithDocument(ctx context.Context, doc string) context.Context {
	return context.WithValue(ctx, docKey, doc)
}

// ContextWithEngine tags records logged with the returned context with the
// diagram engine.
func ContextWithEngine(ctx context.Context, engine string) context.Context {
	return context.WithValue(ctx, engineKey, engine)
}
