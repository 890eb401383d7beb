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
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"diagview/internal/layout"
)

// ErrUnknownFormat is returned by Measure for data that is neither SVG nor a
// registered raster format.
var ErrUnknownFormat = errors.New("unknown image format")

// CSS pixels per unit.
var svgUnits = map[string]float64{
	"":   1,
	"px": 1,
	"pt": 96.0 / 72.0,
	"pc": 16,
	"in": 96,
	"cm": 96 / 2.54,
	"mm": 96 / 25.4,
	"em": 16,
	"ex": 8,
}

// Measure reports the format and intrinsic size of an image.
func Measure(data []byte) (string, layout.Size, error) {
	if looksLikeSVG(data) {
		size, err := measureSVG(data)
		if err != nil {
			return "", layout.Size{}, err
		}
		return "svg", size, nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return "", layout.Size{}, ErrUnknownFormat
		}
		return "", layout.Size{}, fmt.Errorf("decode image header: %w", err)
	}
	return format, layout.Size{W: float64(cfg.Width), H: float64(cfg.Height)}, nil
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	head = bytes.TrimSpace(head)
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(head, []byte("<svg"))
}

func measureSVG(data []byte) (layout.Size, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return layout.Size{}, errors.New("svg: no root element")
		}
		if err != nil {
			return layout.Size{}, fmt.Errorf("svg: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return layout.Size{}, fmt.Errorf("svg: unexpected root <%s>", start.Name.Local)
		}
		return svgSize(start.Attr)
	}
}

func svgSize(attrs []xml.Attr) (layout.Size, error) {
	var width, height, viewBox string
	for _, a := range attrs {
		switch a.Name.Local {
		case "width":
			width = a.Value
		case "height":
			height = a.Value
		case "viewBox":
			viewBox = a.Value
		}
	}
	w, wok := svgLength(width)
	h, hok := svgLength(height)
	if wok && hok {
		return layout.Size{W: w, H: h}, nil
	}
	vw, vh, vok := parseViewBox(viewBox)
	switch {
	case !vok:
		if wok || hok {
			return layout.Size{}, errors.New("svg: partial size without viewBox")
		}
		return layout.Size{}, errors.New("svg: no width, height or viewBox")
	case wok && vw > 0:
		return layout.Size{W: w, H: w * vh / vw}, nil
	case hok && vh > 0:
		return layout.Size{W: h * vw / vh, H: h}, nil
	default:
		return layout.Size{W: vw, H: vh}, nil
	}
}

// svgLength parses an absolute length. Percentages and unknown units are not
// absolute and report false.
func svgLength(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	i := len(s)
	for i > 0 && (s[i-1] >= 'a' && s[i-1] <= 'z' || s[i-1] == '%') {
		i--
	}
	factor, ok := svgUnits[s[i:]]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v * factor, true
}

func parseViewBox(s string) (float64, float64, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	if len(fields) != 4 {
		return 0, 0, false
	}
	var vals [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, 0, false
		}
		vals[i] = v
	}
	if vals[2] < 0 || vals[3] < 0 {
		return 0, 0, false
	}
	return vals[2], vals[3], true
}
