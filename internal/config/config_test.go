/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"diagview/internal/layout"
)

type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}
func (m memTokens) Set(service, key, value string) error { m[service+"/"+key] = value; return nil }
func (m memTokens) Delete(service, key string) error {
	if _, ok := m[service+"/"+key]; !ok {
		return keyring.ErrNotFound
	}
	delete(m, service+"/"+key)
	return nil
}

// isolate points the config file into a temp dir and stubs the keyring.
func isolate(t *testing.T) (string, memTokens) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigFile, path)
	tokens := memTokens{}
	old := tokenStore
	tokenStore = tokens
	t.Cleanup(func() { tokenStore = old })
	return path, tokens
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "" {
		t.Fatalf("unexpected token %q", tok)
	}
	if cfg.Render.Engine != "graphviz" || cfg.Preview.InitialMode() != layout.ModeAutoFit || !cfg.Preview.Center {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	_, tokens := isolate(t)
	cfg := Defaults()
	cfg.Render.Engine = "plantuml"
	cfg.Render.Args = []string{"-tsvg", "-pipe"}
	cfg.Preview.Mode = "fit"
	cfg.Preview.Center = false
	cfg.Cache.MaxBytes = 1 << 20
	if err := Save(cfg, "secret"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "secret" || len(tokens) != 1 {
		t.Fatalf("token = %q, store = %v", tok, tokens)
	}
	if got.Render.Engine != "plantuml" || len(got.Render.Args) != 2 || got.Preview.Mode != "fit" || got.Preview.Center || got.Cache.MaxBytes != 1<<20 {
		t.Fatalf("round trip mismatch: %#v", got)
	}
	if err := ForgetToken(); err != nil {
		t.Fatalf("ForgetToken: %v", err)
	}
	if err := ForgetToken(); err != nil {
		t.Fatalf("ForgetToken on missing token: %v", err)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path, _ := isolate(t)
	if err := os.WriteFile(path, []byte("render:\n  engine: Mermaid\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Render.Engine != "mermaid" {
		t.Fatalf("engine = %q", cfg.Render.Engine)
	}
	if !cfg.Preview.Center || cfg.Render.MaxRunning != 2 {
		t.Fatalf("defaults lost: %#v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path, _ := isolate(t)
	for name, doc := range map[string]string{
		"yaml":       "render: [",
		"mode":       "preview:\n  mode: stretch\n",
		"background": "preview:\n  background: not-a-colour\n",
		"driver":     "cache:\n  driver: redis\n",
	} {
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, _, err := Load(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEnvOverridesBackendURL(t *testing.T) {
	isolate(t)
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Backend.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("Backend.BaseURL = %q, want %q", got, want)
	}
	if name, ok := EnvOverrideFor("backend.base_url"); !ok || name != EnvBackendURL {
		t.Fatalf("EnvOverrideFor = %q, %v", name, ok)
	}
	if _, ok := EnvOverrideFor("render.engine"); ok {
		t.Fatalf("render.engine is not overridden")
	}
}

func TestEnvOverridesRenderAndCache(t *testing.T) {
	isolate(t)
	t.Setenv(EnvRenderEngine, "D2")
	t.Setenv(EnvRenderMaxRunning, "4")
	t.Setenv(EnvRenderDebounceMs, "0")
	t.Setenv(EnvCacheMaxBytes, "1024")
	t.Setenv(EnvPreviewMode, "fixed")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Render.Engine != "d2" || cfg.Render.MaxRunning != 4 || cfg.Render.Debounce() != 0 {
		t.Fatalf("render overrides: %#v", cfg.Render)
	}
	if cfg.Cache.MaxBytes != 1024 || cfg.Preview.InitialMode() != layout.ModeFixed {
		t.Fatalf("cache/preview overrides: %#v %#v", cfg.Cache, cfg.Preview)
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "debug"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "C:/tmp/dgv.log"
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "C:/tmp/dgv.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "X:/dgv.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "X:/dgv.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}

func TestBackgroundColor(t *testing.T) {
	c, err := PreviewConfig{Background: "#336699"}.BackgroundColor()
	if err != nil {
		t.Fatalf("BackgroundColor: %v", err)
	}
	if c != (color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}) {
		t.Fatalf("colour = %#v", c)
	}
}

func TestTimeouts(t *testing.T) {
	if got := (BackendConfig{}).EffectiveTimeout(); got != 15*time.Second {
		t.Fatalf("backend timeout = %v", got)
	}
	if got := (RenderConfig{TimeoutMs: 500}).Timeout(); got != 500*time.Millisecond {
		t.Fatalf("render timeout = %v", got)
	}
}
