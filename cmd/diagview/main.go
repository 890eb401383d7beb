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
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"diagview/internal/backend"
	"diagview/internal/config"
	"diagview/internal/crash"
	"diagview/internal/export"
	applog "diagview/internal/log"
	"diagview/internal/preview"
	"diagview/internal/render"
	"diagview/internal/source"
	"diagview/internal/telemetry"
	"diagview/internal/ui"
	"diagview/internal/version"
)

func usage() {
	fmt.Println("diagview, live diagram preview")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  diagview version|-v|--version                 Show version")
	fmt.Println("  diagview render [-o out] [-pdf] [-thumb WxH] <file>...")
	fmt.Println("                                                Render once and print the image size")
	fmt.Println("  diagview watch <file>                         Re-render on every save and log layout changes")
	fmt.Println("  diagview ui <file>                            Launch desktop preview (build with -tags fyne)")
	fmt.Println("  diagview serve                                Run the shared render cache server")
	fmt.Println("  diagview cache stats|purge                    Inspect or clear the local render cache")
}

func fail(l *slog.Logger, msg string, err error) {
	l.Error(msg, slog.Any("err", err))
	fmt.Println("Error:", err)
	os.Exit(1)
}

func main() {
	args := os.Args
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return
	case "help", "-h", "--help":
		usage()
		return
	}

	cfg, token, err := config.Load()
	// Logging comes up first so config errors are reported through it too.
	applog.Init(loggingOptions(cfg.Logging))
	defer applog.Close()
	l := applog.WithComponent("cli")
	if err != nil {
		fail(l, "load config failed", err)
	}
	defer telemetry.Default().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[1] == "serve" {
		if err := backend.Start(ctx, backend.LoadConfig()); err != nil {
			fail(l, "serve failed", err)
		}
		return
	}

	a, err := newApp(ctx, cfg, token)
	if err != nil {
		fail(l, "startup failed", err)
	}
	defer a.Close()
	defer crash.Recover(a.crashDir, a.manager)
	l.Debug("start", slog.String("cmd", args[1]), slog.Int("args", len(args)))

	switch args[1] {
	case "render":
		if err := runRender(ctx, a, args[2:], os.Stdout); err != nil {
			if errors.Is(err, errUsage) {
				usage()
				os.Exit(2)
			}
			fail(l, "render failed", err)
		}
	case "watch":
		if len(args) < 3 {
			fmt.Println("watch requires <file>")
			usage()
			os.Exit(2)
		}
		if err := runWatch(ctx, a, args[2], os.Stdout); err != nil {
			fail(l, "watch failed", err)
		}
	case "ui":
		if len(args) < 3 {
			fmt.Println("ui requires <file>")
			usage()
			os.Exit(2)
		}
		bg, err := cfg.Preview.BackgroundColor()
		if err != nil {
			fail(l, "invalid background", err)
		}
		if err := ui.Run(ui.Options{Path: args[2], Manager: a.manager, Background: bg, CrashDir: a.crashDir}); err != nil {
			fail(l, "ui failed", err)
		}
	case "cache":
		if err := runCache(ctx, a, args[2:], os.Stdout); err != nil {
			if errors.Is(err, errUsage) {
				usage()
				os.Exit(2)
			}
			fail(l, "cache failed", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

var errUsage = errors.New("usage")

const (
	headlessWidth  = 800
	headlessHeight = 600
)

type renderFlags struct {
	out      string
	pdf      bool
	thumbW   int
	thumbH   int
	files    []string
	multiple bool
}

func parseRenderFlags(args []string) (renderFlags, error) {
	var rf renderFlags
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&rf.out, "o", "", "output path, or a directory when several files are given")
	fs.BoolVar(&rf.pdf, "pdf", false, "also export a PDF")
	thumb := fs.String("thumb", "", "also export a PNG thumbnail bounded by WxH")
	if err := fs.Parse(args); err != nil {
		return rf, fmt.Errorf("%w: %v", errUsage, err)
	}
	rf.files = fs.Args()
	if len(rf.files) == 0 {
		return rf, fmt.Errorf("%w: render requires <file>", errUsage)
	}
	rf.multiple = len(rf.files) > 1
	if *thumb != "" {
		w, h, err := parseBox(*thumb)
		if err != nil {
			return rf, fmt.Errorf("%w: -thumb: %v", errUsage, err)
		}
		rf.thumbW, rf.thumbH = w, h
	}
	return rf, nil
}

// parseBox reads "WxH" with positive integers.
func parseBox(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(ws))
	h, err2 := strconv.Atoi(strings.TrimSpace(hs))
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("want positive WxH, got %q", s)
	}
	return w, h, nil
}

// outputBase is the export path without extension for src.
func (rf renderFlags) outputBase(src string) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	switch {
	case rf.out == "":
		return ""
	case rf.multiple:
		return filepath.Join(rf.out, stem)
	default:
		return strings.TrimSuffix(rf.out, filepath.Ext(rf.out))
	}
}

func runRender(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	rf, err := parseRenderFlags(args)
	if err != nil {
		return err
	}
	results := make([]render.Result, len(rf.files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Render.MaxRunning, 1))
	for i, f := range rf.files {
		g.Go(func() error {
			res, err := renderFile(gctx, a, f)
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			results[i] = res
			return exportResult(rf, f, res)
		})
	}
	err = g.Wait()
	for i, f := range rf.files {
		if res := results[i]; res.Data != nil {
			fmt.Fprintf(stdout, "%s: %s %gx%g\n", f, res.Format, res.Size.W, res.Size.H)
		}
	}
	return err
}

func renderFile(ctx context.Context, a *app, path string) (render.Result, error) {
	src, err := source.Read(path)
	if err != nil {
		return render.Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Render.Timeout())
	defer cancel()
	start := time.Now()
	res, err := a.renderer.Render(ctx, src, nil)
	telemetry.Default().Render(a.cfg.Render.Engine, res, time.Since(start), err)
	return res, err
}

func exportResult(rf renderFlags, src string, res render.Result) error {
	base := rf.outputBase(src)
	if base == "" {
		return nil
	}
	if _, err := export.SaveImage(res, base+export.Extension(res.Format)); err != nil {
		return err
	}
	if rf.pdf {
		if err := export.ExportPDF(res, base+".pdf"); err != nil {
			return err
		}
	}
	if rf.thumbW > 0 {
		err := export.ExportThumbnail(res, base+".thumb.png", rf.thumbW, rf.thumbH)
		if errors.Is(err, export.ErrNotRaster) {
			applog.WithComponent("cli").Warn("thumbnail skipped for vector image", slog.String("file", src))
		} else if err != nil {
			return err
		}
	}
	return nil
}

// runWatch drives a headless preview from file saves until ctx is done.
func runWatch(ctx context.Context, a *app, path string, stdout io.Writer) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	host := newLogHost(applog.WithDocument(applog.WithComponent("watch"), abs), stdout)
	p, err := a.manager.Open(ctx, preview.DocumentID(abs), host)
	if err != nil {
		return err
	}
	// Headless previews lay out against a fixed viewport.
	p.ViewportChanged(headlessWidth, headlessHeight)
	werr := source.Watch(ctx, abs, p.SourceChanged)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(werr, a.manager.CloseAll(closeCtx))
}

func runCache(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: cache requires stats or purge", errUsage)
	}
	if a.index == nil {
		return errors.New("local cache is not open")
	}
	switch args[0] {
	case "stats":
		n, err := a.index.TotalBytes(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "index: %s\nbytes: %d\n", a.index.Path(), n)
		return nil
	case "purge":
		if err := a.index.Purge(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "cache purged")
		return nil
	default:
		return fmt.Errorf("%w: unknown cache command %q", errUsage, args[0])
	}
}
