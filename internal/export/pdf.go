/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/jung-kurt/gofpdf"

	applog "diagview/internal/log"
	"diagview/internal/render"
	"diagview/internal/version"
)

// ptPerPx converts CSS pixels to PDF points.
const ptPerPx = 72.0 / 96.0

// gofpdf reads these natively; other raster formats are re-encoded as PNG.
var pdfImageTypes = map[string]string{
	"png":  "PNG",
	"jpeg": "JPG",
	"gif":  "GIF",
}

// WritePDF writes a single-page PDF sized to the image. SVG content is drawn
// as vector strokes and text; raster images are embedded.
func WritePDF(w io.Writer, res render.Result) error {
	if len(res.Data) == 0 {
		return render.ErrEmptyOutput
	}
	if !(res.Size.W > 0 && res.Size.H > 0) {
		return fmt.Errorf("export pdf: image has no size (%gx%g)", res.Size.W, res.Size.H)
	}
	pw, ph := res.Size.W*ptPerPx, res.Size.H*ptPerPx

	// Use points for 1:1 mapping with the page size
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pw, Ht: ph},
	})
	pdf.SetCreator(version.String(), false)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	var err error
	if res.Format == "svg" {
		err = drawSVG(pdf, res.Data, pw, ph)
	} else {
		err = drawRaster(pdf, res, pw, ph)
	}
	if err != nil {
		return err
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// ExportPDF writes the image as a PDF file at path.
func ExportPDF(res render.Result, path string) error {
	var buf bytes.Buffer
	if err := WritePDF(&buf, res); err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	applog.WithComponent("export").Debug("pdf written", slog.String("path", path), slog.Int("bytes", buf.Len()))
	return nil
}

func drawSVG(pdf *gofpdf.Fpdf, data []byte, pw, ph float64) error {
	d, err := flatten(data, pw, ph)
	if err != nil {
		return err
	}
	pdf.SetXY(0, 0)
	for _, s := range d.shapes {
		pdf.SetDrawColor(int(s.color.R), int(s.color.G), int(s.color.B))
		pdf.SetLineWidth(s.width)
		sb := gofpdf.SVGBasicType{Wd: pw, Ht: ph, Segments: [][]gofpdf.SVGBasicSegmentType{s.segs}}
		pdf.SVGBasicWrite(&sb, 1)
		pdf.SetXY(0, 0)
	}
	// Core fonts are cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, l := range d.labels {
		styleStr := ""
		if l.bold {
			styleStr = "B"
		}
		size := l.size
		if size <= 0 {
			size = 10
		}
		pdf.SetFont("Helvetica", styleStr, size)
		pdf.SetTextColor(int(l.color.R), int(l.color.G), int(l.color.B))
		txt := tr(l.text)
		x := l.x
		switch l.align {
		case "middle":
			x -= pdf.GetStringWidth(txt) / 2
		case "end":
			x -= pdf.GetStringWidth(txt)
		}
		pdf.Text(x, l.y, txt)
	}
	return pdf.Error()
}

func drawRaster(pdf *gofpdf.Fpdf, res render.Result, pw, ph float64) error {
	data := res.Data
	imgType, ok := pdfImageTypes[res.Format]
	if !ok {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode %s: %w", res.Format, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		data, imgType = buf.Bytes(), "PNG"
	}
	opts := gofpdf.ImageOptions{ImageType: imgType, ReadDpi: false}
	pdf.RegisterImageOptionsReader("diagram", opts, bytes.NewReader(data))
	pdf.ImageOptions("diagram", 0, 0, pw, ph, false, opts, 0, "")
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("embed image: %w", err)
	}
	return nil
}
