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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"diagview/internal/backend"
	"diagview/internal/config"
	applog "diagview/internal/log"
	"diagview/internal/preview"
	"diagview/internal/render"
	"diagview/internal/storage"
)

// app holds everything a subcommand needs, built once from the configuration.
type app struct {
	cfg      config.AppConfig
	token    string
	renderer render.Renderer
	manager  *preview.Manager
	index    *storage.Index
	crashDir string
	log      *slog.Logger
}

// newRenderer builds the compiler for the configured engine. A remote URL
// replaces the local process with a Kroki-compatible server.
func newRenderer(rc config.RenderConfig, token string) (render.Renderer, error) {
	if u := strings.TrimSpace(rc.RemoteURL); u != "" {
		return render.NewRemote(u, rc.Engine, token, rc.Timeout()), nil
	}
	e, err := render.Preset(rc.Engine)
	if err != nil {
		return nil, err
	}
	if c := strings.TrimSpace(rc.Command); c != "" {
		e.Command = c
	}
	if len(rc.Args) > 0 {
		e.Args = append([]string(nil), rc.Args...)
	}
	return e, nil
}

// errNoIndex is returned by newCache when the local driver has no index.
var errNoIndex = errors.New("local cache unavailable")

// newCache picks the render cache for cfg.Cache.Driver. idx may be nil when
// the local index could not be opened.
func newCache(cfg config.AppConfig, token string, idx *storage.Index) (render.Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Driver)) {
	case "", "local":
		if idx == nil {
			return nil, errNoIndex
		}
		return idx, nil
	case "remote":
		return backend.NewClient(cfg.Backend.BaseURL, token, cfg.Backend.EffectiveTimeout(), cfg.Backend.TLSInsecure), nil
	case "memory":
		return render.NewMemory(cfg.Cache.MaxBytes), nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

func newApp(ctx context.Context, cfg config.AppConfig, token string) (*app, error) {
	l := applog.WithComponent("cli")
	a := &app{cfg: cfg, token: token, log: l}

	r, err := newRenderer(cfg.Render, token)
	if err != nil {
		return nil, err
	}

	// The local index also stores view states, so it is opened for every
	// driver except off.
	dir, err := cfg.Cache.CacheDir()
	if err != nil {
		return nil, err
	}
	a.crashDir = filepath.Join(dir, "crashes")
	if !strings.EqualFold(cfg.Cache.Driver, "off") {
		idx, recovered, err := storage.OpenOrRecover(ctx, dir, cfg.Cache.MaxBytes)
		if err != nil {
			l.Warn("local index unavailable; view states will not persist", slog.String("dir", dir), slog.Any("err", err))
		} else {
			if recovered {
				l.Warn("local index was damaged and has been recreated", slog.String("path", idx.Path()))
			}
			a.index = idx
		}
	}

	cache, err := newCache(cfg, token, a.index)
	if errors.Is(err, errNoIndex) {
		l.Warn("rendering without a cache")
		cache, err = nil, nil
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	a.renderer = render.WithCache(r, cache)

	var store preview.StateStore
	if a.index != nil {
		store = a.index
	}
	a.manager = preview.NewManager(a.renderer, store, preview.Options{
		Mode:       cfg.Preview.InitialMode(),
		Center:     cfg.Preview.Center,
		MaxRunning: cfg.Render.MaxRunning,
		Debounce:   cfg.Render.Debounce(),
		Timeout:    cfg.Render.Timeout(),
	})
	l.Debug("app ready", slog.String("engine", cfg.Render.Engine), slog.String("cache", cfg.Cache.Driver))
	return a, nil
}

// Close releases the local index.
func (a *app) Close() {
	if a.index == nil {
		return
	}
	if err := a.index.Close(); err != nil {
		a.log.Warn("close index failed", slog.Any("err", err))
	}
	a.index = nil
}

// loggingOptions maps the logging section onto the logger options. Unset
// fields keep the environment defaults.
func loggingOptions(lc config.LoggingConfig) applog.Options {
	o := applog.FromEnv()
	if lc.Level != "" {
		o.Level = lc.Level
	}
	if lc.Format != "" {
		o.Format = lc.Format
	}
	o.AddSource = o.AddSource || lc.Source
	if lc.File != "" {
		o.File = lc.File
	}
	return o
}
