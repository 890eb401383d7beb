/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export writes rendered diagrams to files: the raw image, a PDF page
// and scaled raster thumbnails.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"diagview/internal/render"
)

// ErrNotRaster is returned when a raster operation is asked to handle a vector image.
var ErrNotRaster = errors.New("export: image is not a raster format")

// extensions maps render formats to file extensions.
var extensions = map[string]string{
	"svg":  ".svg",
	"png":  ".png",
	"jpeg": ".jpg",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"tiff": ".tiff",
	"webp": ".webp",
}

// Extension returns the file extension for a render format.
func Extension(format string) string {
	if ext, ok := extensions[format]; ok {
		return ext
	}
	return "." + format
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	return nil
}

// SaveImage writes the image bytes unchanged. When path has no extension the
// one matching the format is appended. The written path is returned.
func SaveImage(res render.Result, path string) (string, error) {
	if len(res.Data) == 0 {
		return "", render.ErrEmptyOutput
	}
	if filepath.Ext(path) == "" {
		path += Extension(res.Format)
	}
	if err := ensureDir(path); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, res.Data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// fitWithin returns the largest size with the aspect ratio of w x h that fits
// in maxW x maxH. Images are never enlarged; a non-positive bound is ignored.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	s := 1.0
	if maxW > 0 && w > maxW {
		s = math.Min(s, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		s = math.Min(s, float64(maxH)/float64(h))
	}
	tw := int(math.Round(float64(w) * s))
	th := int(math.Round(float64(h) * s))
	return max(tw, 1), max(th, 1)
}

func decodeRaster(res render.Result) (image.Image, error) {
	if res.Format == "svg" {
		return nil, ErrNotRaster
	}
	img, _, err := image.Decode(bytes.NewReader(res.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", res.Format, err)
	}
	return img, nil
}

// Thumbnail scales a raster result to fit within maxW x maxH.
func Thumbnail(res render.Result, maxW, maxH int) (image.Image, error) {
	src, err := decodeRaster(res)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	tw, th := fitWithin(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

// ExportThumbnail writes a PNG thumbnail of a raster result to path.
func ExportThumbnail(res render.Result, path string, maxW, maxH int) error {
	img, err := Thumbnail(res, maxW, maxH)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}
