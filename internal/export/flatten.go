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
	"encoding/xml"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/lucasb-eyer/go-colorful"
)

// affine is a transform without rotation or skew: x' = a*x + e, y' = d*y + f.
type affine struct{ a, d, e, f float64 }

var identity = affine{a: 1, d: 1}

// then returns m applied after n, i.e. m(n(p)).
func (m affine) then(n affine) affine {
	return affine{a: m.a * n.a, d: m.d * n.d, e: m.a*n.e + m.e, f: m.d*n.f + m.f}
}

func (m affine) point(x, y float64) (float64, float64) { return m.a*x + m.e, m.d*y + m.f }

var transformRe = regexp.MustCompile(`([a-zA-Z]+)\s*\(([^)]*)\)`)

func numbers(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// parseTransform understands translate, scale and the scale/translate part of
// matrix. Rotation and skew are ignored.
func parseTransform(s string) affine {
	m := identity
	for _, g := range transformRe.FindAllStringSubmatch(s, -1) {
		args := numbers(g[2])
		var n affine
		switch strings.ToLower(g[1]) {
		case "translate":
			if len(args) == 0 {
				continue
			}
			n = affine{a: 1, d: 1, e: args[0]}
			if len(args) > 1 {
				n.f = args[1]
			}
		case "scale":
			if len(args) == 0 {
				continue
			}
			n = affine{a: args[0], d: args[0]}
			if len(args) > 1 {
				n.d = args[1]
			}
		case "matrix":
			if len(args) != 6 {
				continue
			}
			n = affine{a: args[0], d: args[3], e: args[4], f: args[5]}
		default:
			continue
		}
		m = m.then(n)
	}
	return m
}

var namedColors = map[string]color.NRGBA{
	"black":     {0, 0, 0, 255},
	"white":     {255, 255, 255, 255},
	"red":       {255, 0, 0, 255},
	"green":     {0, 128, 0, 255},
	"blue":      {0, 0, 255, 255},
	"gray":      {128, 128, 128, 255},
	"grey":      {128, 128, 128, 255},
	"lightgrey": {211, 211, 211, 255},
	"lightgray": {211, 211, 211, 255},
	"orange":    {255, 165, 0, 255},
	"yellow":    {255, 255, 0, 255},
}

// paint resolves an SVG paint value. ok is false for none.
func paint(v string) (c color.NRGBA, ok bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch {
	case v == "none" || v == "transparent":
		return color.NRGBA{}, false
	case strings.HasPrefix(v, "#"):
		cc, err := colorful.Hex(v)
		if err != nil {
			return namedColors["black"], true
		}
		r, g, b := cc.RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: 255}, true
	}
	if nc, found := namedColors[v]; found {
		return nc, true
	}
	return namedColors["black"], true
}

// style is the inherited presentation state.
type style struct {
	stroke, fill string
	strokeWidth  float64
	fontSize     float64
	fontWeight   string
	anchor       string
	m            affine
}

func (s style) with(attrs []xml.Attr) style {
	for _, a := range attrs {
		switch a.Name.Local {
		case "stroke":
			s.stroke = a.Value
		case "fill":
			s.fill = a.Value
		case "stroke-width":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(a.Value, "px"), 64); err == nil {
				s.strokeWidth = v
			}
		case "font-size":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSuffix(a.Value, "px"), "pt"), 64); err == nil {
				s.fontSize = v
			}
		case "font-weight":
			s.fontWeight = a.Value
		case "text-anchor":
			s.anchor = a.Value
		case "transform":
			s.m = s.m.then(parseTransform(a.Value))
		}
	}
	return s
}

// outline is the colour a shape is drawn with. Filled shapes without an
// explicit stroke are outlined in their fill colour.
func (s style) outline() (color.NRGBA, bool) {
	if s.stroke != "" {
		return paint(s.stroke)
	}
	if s.fill == "" {
		return namedColors["black"], true
	}
	return paint(s.fill)
}

type shape struct {
	segs  []gofpdf.SVGBasicSegmentType
	color color.NRGBA
	width float64
}

type label struct {
	x, y  float64
	size  float64
	bold  bool
	text  string
	align string
	color color.NRGBA
}

type drawing struct {
	shapes []shape
	labels []label
}

var errNoDrawable = errors.New("export: svg has no drawable elements")

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func num(attrs []xml.Attr, name string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSuffix(attr(attrs, name), "px"), 64)
	return v
}

func pointsPath(pts []float64, closed bool) string {
	if len(pts) < 4 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(pts); i += 2 {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		fmt.Fprintf(&b, "%s%g %g ", cmd, pts[i], pts[i+1])
	}
	if closed {
		b.WriteString("Z")
	}
	return b.String()
}

// ellipsePath approximates an ellipse with four cubic curves.
func ellipsePath(cx, cy, rx, ry float64) string {
	if rx <= 0 || ry <= 0 {
		return ""
	}
	const k = 0.5522847498
	ox, oy := rx*k, ry*k
	return fmt.Sprintf("M%g %g C%g %g %g %g %g %g C%g %g %g %g %g %g C%g %g %g %g %g %g C%g %g %g %g %g %gZ",
		cx+rx, cy,
		cx+rx, cy+oy, cx+ox, cy+ry, cx, cy+ry,
		cx-ox, cy+ry, cx-rx, cy+oy, cx-rx, cy,
		cx-rx, cy-oy, cx-ox, cy-ry, cx, cy-ry,
		cx+ox, cy-ry, cx+rx, cy-oy, cx+rx, cy)
}

// elementPath converts a basic shape to path data.
func elementPath(e xml.StartElement) string {
	a := e.Attr
	switch e.Name.Local {
	case "path":
		return attr(a, "d")
	case "polygon":
		return pointsPath(numbers(attr(a, "points")), true)
	case "polyline":
		return pointsPath(numbers(attr(a, "points")), false)
	case "line":
		return pointsPath([]float64{num(a, "x1"), num(a, "y1"), num(a, "x2"), num(a, "y2")}, false)
	case "rect":
		x, y, w, h := num(a, "x"), num(a, "y"), num(a, "width"), num(a, "height")
		if w <= 0 || h <= 0 {
			return ""
		}
		return pointsPath([]float64{x, y, x + w, y, x + w, y + h, x, y + h}, true)
	case "circle":
		r := num(a, "r")
		return ellipsePath(num(a, "cx"), num(a, "cy"), r, r)
	case "ellipse":
		return ellipsePath(num(a, "cx"), num(a, "cy"), num(a, "rx"), num(a, "ry"))
	}
	return ""
}

// parsePath runs path data through gofpdf's basic SVG parser and maps the
// resulting segments through m.
func parsePath(d string, m affine) ([]gofpdf.SVGBasicSegmentType, error) {
	var doc bytes.Buffer
	doc.WriteString(`<svg width="1" height="1"><path d="`)
	if err := xml.EscapeText(&doc, []byte(d)); err != nil {
		return nil, err
	}
	doc.WriteString(`"/></svg>`)
	sig, err := gofpdf.SVGBasicParse(doc.Bytes())
	if err != nil {
		return nil, err
	}
	var out []gofpdf.SVGBasicSegmentType
	for _, path := range sig.Segments {
		for _, seg := range path {
			out = append(out, mapSegment(seg, m))
		}
	}
	return out, nil
}

func mapSegment(seg gofpdf.SVGBasicSegmentType, m affine) gofpdf.SVGBasicSegmentType {
	pairs := 0
	switch seg.Cmd {
	case 'M', 'L', 'm', 'l':
		pairs = 1
	case 'Q', 'q':
		pairs = 2
	case 'C', 'c':
		pairs = 3
	case 'H':
		seg.Arg[0] = m.a*seg.Arg[0] + m.e
	case 'h':
		seg.Arg[0] *= m.a
	case 'V':
		seg.Arg[0] = m.d*seg.Arg[0] + m.f
	case 'v':
		seg.Arg[0] *= m.d
	}
	relative := seg.Cmd >= 'a' && seg.Cmd <= 'z'
	for i := 0; i < pairs; i++ {
		x, y := seg.Arg[2*i], seg.Arg[2*i+1]
		if relative {
			seg.Arg[2*i], seg.Arg[2*i+1] = m.a*x, m.d*y
		} else {
			seg.Arg[2*i], seg.Arg[2*i+1] = m.point(x, y)
		}
	}
	return seg
}

// viewBoxTransform maps user space of the root element onto a page of
// pw x ph points.
func viewBoxTransform(root xml.StartElement, pw, ph float64) affine {
	vb := numbers(attr(root.Attr, "viewBox"))
	if len(vb) != 4 || vb[2] <= 0 || vb[3] <= 0 {
		return affine{a: ptPerPx, d: ptPerPx}
	}
	sx, sy := pw/vb[2], ph/vb[3]
	return affine{a: sx, d: sy, e: -vb[0] * sx, f: -vb[1] * sy}
}

// flatten reduces an SVG document to stroked paths and text labels in page
// coordinates. Fills, gradients, clipping and rotated content are not kept.
func flatten(data []byte, pw, ph float64) (drawing, error) {
	var out drawing
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	stack := []style{}
	skip := 0
	var text *label
	rooted := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return drawing{}, fmt.Errorf("parse svg: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if skip > 0 {
				skip++
				continue
			}
			var parent style
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			} else {
				parent = style{strokeWidth: 1, fontSize: 14, m: identity}
			}
			if !rooted {
				if t.Name.Local != "svg" {
					return drawing{}, fmt.Errorf("parse svg: root element is <%s>", t.Name.Local)
				}
				rooted = true
				parent.m = viewBoxTransform(t, pw, ph)
			}
			st := parent.with(t.Attr)
			stack = append(stack, st)
			switch t.Name.Local {
			case "defs", "clipPath", "marker", "mask", "pattern", "symbol", "title", "desc", "style", "script":
				skip = 1
				stack = stack[:len(stack)-1]
				continue
			case "text":
				x, y := st.m.point(num(t.Attr, "x"), num(t.Attr, "y"))
				c, ok := paint(st.fill)
				if st.fill == "" {
					c, ok = namedColors["black"], true
				}
				if ok {
					text = &label{x: x, y: y, size: st.fontSize * math.Abs(st.m.d), bold: st.fontWeight == "bold",
						align: st.anchor, color: c}
				}
				continue
			}
			d := elementPath(t)
			if d == "" {
				continue
			}
			c, ok := st.outline()
			if !ok {
				continue
			}
			segs, err := parsePath(d, st.m)
			if err != nil || len(segs) == 0 {
				continue
			}
			w := st.strokeWidth * (math.Abs(st.m.a) + math.Abs(st.m.d)) / 2
			out.shapes = append(out.shapes, shape{segs: segs, color: c, width: w})
		case xml.CharData:
			if skip == 0 && text != nil {
				text.text += string(t)
			}
		case xml.EndElement:
			if skip > 0 {
				skip--
				continue
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if t.Name.Local == "text" && text != nil {
				text.text = strings.Join(strings.Fields(text.text), " ")
				if text.text != "" {
					out.labels = append(out.labels, *text)
				}
				text = nil
			}
		}
	}
	if !rooted {
		return drawing{}, errors.New("parse svg: no root element")
	}
	if len(out.shapes) == 0 && len(out.labels) == 0 {
		return drawing{}, errNoDrawable
	}
	return out, nil
}
