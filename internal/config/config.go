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
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"diagview/internal/layout"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type RenderConfig struct {
	Engine     string   `yaml:"engine"`  // graphviz | plantuml | mermaid | d2 | pikchr
	Command    string   `yaml:"command"` // overrides the engine's default binary
	Args       []string `yaml:"args"`
	MaxRunning int      `yaml:"max_running"`
	DebounceMs int      `yaml:"debounce_ms"`
	// RemoteURL selects a Kroki-compatible server instead of a local compiler.
	RemoteURL string `yaml:"remote_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type PreviewConfig struct {
	Mode       string `yaml:"mode"` // fixed | fit | autofit
	Center     bool   `yaml:"center"`
	Background string `yaml:"background"` // hex colour, e.g. "#ffffff"
}

type CacheConfig struct {
	Driver   string `yaml:"driver"` // local | remote | memory | off
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	Render        RenderConfig  `yaml:"render"`
	Preview       PreviewConfig `yaml:"preview"`
	Cache         CacheConfig   `yaml:"cache"`
	Backend       BackendConfig `yaml:"backend"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Render:        RenderConfig{Engine: "graphviz", MaxRunning: 2, DebounceMs: 150, TimeoutMs: 30000},
		Preview:       PreviewConfig{Mode: "autofit", Center: true, Background: "#ffffff"},
		Cache:         CacheConfig{Driver: "local", MaxBytes: 256 << 20},
		Backend:       BackendConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000, TLSInsecure: false},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile       = "DGV_CONFIG"
	EnvRenderEngine     = "DGV_RENDER_ENGINE"
	EnvRenderCommand    = "DGV_RENDER_COMMAND"
	EnvRenderMaxRunning = "DGV_RENDER_MAX_RUNNING"
	EnvRenderDebounceMs = "DGV_RENDER_DEBOUNCE_MS"
	EnvRenderRemoteURL  = "DGV_RENDER_REMOTE_URL"
	EnvPreviewMode      = "DGV_PREVIEW_MODE"
	EnvPreviewBG        = "DGV_PREVIEW_BACKGROUND"
	EnvCacheDriver      = "DGV_CACHE_DRIVER"
	EnvCacheDir         = "DGV_CACHE_DIR"
	EnvCacheMaxBytes    = "DGV_CACHE_MAX_BYTES"
	EnvBackendURL       = "DGV_BACKEND_URL"
	EnvBackendTimeoutMs = "DGV_BACKEND_TIMEOUT_MS"
	EnvBackendTLSInsec  = "DGV_TLS_INSECURE"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "DGV_LOG_LEVEL"
	EnvLogFormat = "DGV_LOG_FORMAT"
	EnvLogSource = "DGV_LOG_SOURCE"
	EnvLogFile   = "DGV_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "diagview"
	keyringToken   = "backend_token"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// baseDir returns the per-user directory for an app-scoped kind of data.
func baseDir(kind string) (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if kind == "cache" && os.Getenv("LocalAppData") != "" {
			base = os.Getenv("LocalAppData")
		}
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "diagview")
	case "darwin":
		if kind == "cache" {
			base = filepath.Join(os.Getenv("HOME"), "Library", "Caches", "diagview")
		} else {
			base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "diagview")
		}
	default: // linux and others
		if kind == "cache" {
			base = filepath.Join(os.Getenv("HOME"), ".cache", "diagview")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "diagview")
		}
	}
	if base == "" || base == "diagview" {
		return "", errors.New("cannot resolve " + kind + " directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path. DGV_CONFIG points elsewhere.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	base, err := baseDir("config")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.yaml"), nil
}

// CacheDir returns the configured cache directory or the per-user default.
func (c CacheConfig) CacheDir() (string, error) {
	if strings.TrimSpace(c.Dir) != "" {
		return c.Dir, nil
	}
	return baseDir("cache")
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// It also loads the backend token from keyring (not kept inside the struct; returned separately).
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		// Start from defaults so absent booleans keep their default.
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	// token from keyring; a missing entry is not an error
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return nil
}

// ForgetToken removes the backend token from the keyring.
func ForgetToken() error {
	err := tokenStore.Delete(keyringService, keyringToken)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Validate checks values that cannot be fixed up silently.
func (c AppConfig) Validate() error {
	if _, err := layout.ParseMode(c.Preview.Mode); err != nil {
		return fmt.Errorf("preview.mode: %w", err)
	}
	if _, err := c.Preview.BackgroundColor(); err != nil {
		return fmt.Errorf("preview.background: %w", err)
	}
	switch c.Cache.Driver {
	case "local", "remote", "memory", "off":
	default:
		return fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver)
	}
	if c.Render.MaxRunning < 1 {
		return fmt.Errorf("render.max_running must be at least 1, got %d", c.Render.MaxRunning)
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// render
	if v := strings.ToLower(strings.TrimSpace(src.Render.Engine)); v != "" {
		dst.Render.Engine = v
	}
	if v := strings.TrimSpace(src.Render.Command); v != "" {
		dst.Render.Command = v
	}
	if len(src.Render.Args) > 0 {
		dst.Render.Args = append([]string(nil), src.Render.Args...)
	}
	if src.Render.MaxRunning != 0 {
		dst.Render.MaxRunning = src.Render.MaxRunning
	}
	if src.Render.DebounceMs != 0 {
		dst.Render.DebounceMs = src.Render.DebounceMs
	}
	if v := strings.TrimSpace(src.Render.RemoteURL); v != "" {
		dst.Render.RemoteURL = v
	}
	if src.Render.TimeoutMs != 0 {
		dst.Render.TimeoutMs = src.Render.TimeoutMs
	}
	// preview
	if v := strings.ToLower(strings.TrimSpace(src.Preview.Mode)); v != "" {
		dst.Preview.Mode = v
	}
	dst.Preview.Center = src.Preview.Center
	if v := strings.TrimSpace(src.Preview.Background); v != "" {
		dst.Preview.Background = v
	}
	// cache
	if v := strings.ToLower(strings.TrimSpace(src.Cache.Driver)); v != "" {
		dst.Cache.Driver = v
	}
	if v := strings.TrimSpace(src.Cache.Dir); v != "" {
		dst.Cache.Dir = v
	}
	if src.Cache.MaxBytes != 0 {
		dst.Cache.MaxBytes = src.Cache.MaxBytes
	}
	// backend
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	dst.Backend.TLSInsecure = src.Backend.TLSInsecure
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func envBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvRenderEngine)); v != "" {
		cfg.Render.Engine = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvRenderCommand)); v != "" {
		cfg.Render.Command = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRenderMaxRunning)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Render.MaxRunning = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvRenderDebounceMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Render.DebounceMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvRenderRemoteURL)); v != "" {
		cfg.Render.RemoteURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPreviewMode)); v != "" {
		cfg.Preview.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvPreviewBG)); v != "" {
		cfg.Preview.Background = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCacheDriver)); v != "" {
		cfg.Cache.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvCacheDir)); v != "" {
		cfg.Cache.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCacheMaxBytes)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.MaxBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTLSInsec)); v != "" {
		cfg.Backend.TLSInsecure = envBool(v)
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"render.engine":        EnvRenderEngine,
	"render.command":       EnvRenderCommand,
	"render.max_running":   EnvRenderMaxRunning,
	"render.debounce_ms":   EnvRenderDebounceMs,
	"render.remote_url":    EnvRenderRemoteURL,
	"preview.mode":         EnvPreviewMode,
	"preview.background":   EnvPreviewBG,
	"cache.driver":         EnvCacheDriver,
	"cache.dir":            EnvCacheDir,
	"cache.max_bytes":      EnvCacheMaxBytes,
	"backend.base_url":     EnvBackendURL,
	"backend.timeout_ms":   EnvBackendTimeoutMs,
	"backend.tls_insecure": EnvBackendTLSInsec,
	"logging.level":        EnvLogLevel,
	"logging.format":       EnvLogFormat,
	"logging.source":       EnvLogSource,
	"logging.file":         EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// BackgroundColor parses the configured background.
func (p PreviewConfig) BackgroundColor() (color.Color, error) {
	c, err := colorful.Hex(strings.TrimSpace(p.Background))
	if err != nil {
		return nil, err
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// InitialMode returns the parsed preview mode; Validate has already checked it.
func (p PreviewConfig) InitialMode() layout.Mode {
	m, _ := layout.ParseMode(p.Mode)
	return m
}

// Debounce returns the source-change debounce interval.
func (r RenderConfig) Debounce() time.Duration {
	if r.DebounceMs <= 0 {
		return 0
	}
	return time.Duration(r.DebounceMs) * time.Millisecond
}

// Timeout returns the per-render timeout.
func (r RenderConfig) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return time.Duration(Defaults().Render.TimeoutMs) * time.Millisecond
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// EffectiveTimeout returns the backend request timeout.
func (b BackendConfig) EffectiveTimeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
