//go:build fyne && cgo

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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"diagview/internal/crash"
	"diagview/internal/export"
	"diagview/internal/layout"
	applog "diagview/internal/log"
	"diagview/internal/preview"
	"diagview/internal/source"
	"diagview/internal/version"
)

// zoomStep is the factor applied by the zoom buttons.
const zoomStep = 1.25

// Run opens a window previewing opts.Path and blocks until it is closed.
func Run(opts Options) error {
	abs, err := opts.document()
	if err != nil {
		return err
	}
	l := applog.WithDocument(applog.WithComponent("ui"), abs)
	l.Info("starting UI")
	defer crash.Recover(opts.CrashDir, opts.Manager)

	fyneApp := app.NewWithID("diagview")
	w := fyneApp.NewWindow(fmt.Sprintf("%s - %s", filepath.Base(abs), version.String()))
	// Restore window size from preferences (with sane minimums)
	prefs := fyneApp.Preferences()
	winW := max(prefs.IntWithFallback("window.width", 1000), 400)
	winH := max(prefs.IntWithFallback("window.height", 700), 300)
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	status := widget.NewLabel(StatusText(preview.StatusIdle, ""))
	pc := NewPreviewCanvas(opts.Background)
	pc.OnStatus = func(s preview.Status, detail string) {
		status.SetText(StatusText(s, detail))
		if s == preview.StatusError {
			l.Warn("render failed", slog.String("detail", detail))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := opts.Manager.Open(ctx, preview.DocumentID(abs), pc)
	if err != nil {
		return err
	}
	pc.Bind(p)

	toolbar := newToolbar(w, p, pc, l)
	w.SetContent(container.NewBorder(toolbar, status, nil, nil, pc))

	go func() {
		if err := source.Watch(ctx, abs, p.SourceChanged); err != nil && ctx.Err() == nil {
			l.Error("watch failed", slog.Any("err", err))
			fyne.Do(func() { status.SetText("Watch failed: " + err.Error()) })
		}
	}()

	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.Key0, Modifier: fyne.KeyModifierControl}, func(fyne.Shortcut) {
		p.ToggleIsIdentity()
	})
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyR, Modifier: fyne.KeyModifierControl}, func(fyne.Shortcut) {
		if b, err := source.Read(abs); err == nil {
			p.Render(b)
		}
	})

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := opts.Manager.CloseAll(closeCtx); err != nil {
			l.Warn("closing previews", slog.Any("err", err))
		}
		w.Close()
	})
	w.ShowAndRun()
	l.Info("UI closed")
	return nil
}

// newToolbar builds the mode selector, center toggle, zoom and export controls.
func newToolbar(w fyne.Window, p *preview.Preview, pc *PreviewCanvas, l *slog.Logger) fyne.CanvasObject {
	// syncing is set while the controls mirror the view so their change
	// handlers do not feed the values back.
	syncing := false

	modes := []string{layout.ModeFixed.String(), layout.ModeFit.String(), layout.ModeAutoFit.String()}
	modeSelect := widget.NewSelect(modes, func(s string) {
		if syncing {
			return
		}
		if m, err := layout.ParseMode(s); err == nil {
			p.SwitchMode(m)
		}
	})
	centerCheck := widget.NewCheck("Center", func(on bool) {
		if syncing || on == pc.View().Center {
			return
		}
		p.ToggleIsCenter()
	})
	scaleLabel := widget.NewLabel("100%")

	pc.OnViewChanged = func(v ViewState) {
		syncing = true
		defer func() { syncing = false }()
		modeSelect.SetSelected(v.Mode.String())
		centerCheck.SetChecked(v.Center)
		scaleLabel.SetText(fmt.Sprintf("%.0f%%", v.Scale*100))
	}

	identityBtn := widget.NewButton("100%", func() { p.ToggleIsIdentity() })
	zoomIn := widget.NewButtonWithIcon("", theme.ZoomInIcon(), func() { p.SetScale(p.Scale() * zoomStep) })
	zoomOut := widget.NewButtonWithIcon("", theme.ZoomOutIcon(), func() { p.SetScale(p.Scale() / zoomStep) })

	saveAs := func(title string, write func(path string) error) {
		d := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
			if err != nil || wc == nil {
				return
			}
			path := wc.URI().Path()
			_ = wc.Close()
			if err := write(path); err != nil {
				l.Error(title+" failed", slog.Any("err", err))
				dialog.ShowError(err, w)
				return
			}
			l.Info(title+" written", slog.String("path", path))
		}, w)
		d.Show()
	}
	saveImage := widget.NewButtonWithIcon("", theme.DocumentSaveIcon(), func() {
		res, ok := pc.Result()
		if !ok {
			return
		}
		saveAs("image", func(path string) error {
			_, err := export.SaveImage(res, path)
			return err
		})
	})
	exportPDF := widget.NewButton("PDF", func() {
		res, ok := pc.Result()
		if !ok {
			return
		}
		saveAs("pdf", func(path string) error { return export.ExportPDF(res, path) })
	})

	return container.NewHBox(
		modeSelect, centerCheck, widget.NewSeparator(),
		zoomOut, scaleLabel, zoomIn, identityBtn, widget.NewSeparator(),
		saveImage, exportPDF,
	)
}
