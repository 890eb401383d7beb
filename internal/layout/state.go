/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// State is the persisted form of an engine, used to restore the view across
// reloads. For fitting modes the fixed fields hold the remembered layout (Scale
// is zero when none is remembered).
type State struct {
	Mode     string  `json:"mode"`
	Center   bool    `json:"center"`
	Identity bool    `json:"identity"`
	Scale    float64 `json:"scale"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

const stateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mode", "center", "identity", "scale", "x", "y"],
  "properties": {
    "mode":     {"type": "string", "enum": ["fixed", "fit", "autofit"]},
    "center":   {"type": "boolean"},
    "identity": {"type": "boolean"},
    "scale":    {"type": "number", "minimum": 0},
    "x":        {"type": "number"},
    "y":        {"type": "number"}
  },
  "additionalProperties": false
}`

var stateSchemaLoader = gojsonschema.NewStringLoader(stateSchema)

// Snapshot captures the engine so it can be rebuilt with Params.
func (e *Engine) Snapshot() State {
	var f fixedState
	switch s := e.st.(type) {
	case fixedState:
		f = s
	default:
		sv := e.saved()
		if sv == nil {
			return State{Mode: e.Mode().String()}
		}
		f = e.restore(sv)
	}
	return State{
		Mode:     e.Mode().String(),
		Center:   f.center,
		Identity: f.identity,
		Scale:    f.scale,
		X:        f.pos.X,
		Y:        f.pos.Y,
	}
}

// Finite reports whether scale and position are all finite numbers. Only
// finite states can be encoded.
func (s State) Finite() bool {
	for _, f := range [...]float64{s.Scale, s.X, s.Y} {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return false
		}
	}
	return true
}

// Params turns a snapshot back into construction parameters for the given
// viewport and image sizes.
func (s State) Params(viewport, image Size) (Params, error) {
	m, err := ParseMode(s.Mode)
	if err != nil {
		return Params{}, err
	}
	return Params{
		Viewport: viewport,
		Image:    image,
		Mode:     m,
		Center:   s.Center,
		Identity: s.Identity,
		Scale:    s.Scale,
		Position: Point{X: s.X, Y: s.Y},
	}, nil
}

// EncodeState serializes s as JSON.
func EncodeState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState validates data against the state schema and decodes it.
func DecodeState(data []byte) (State, error) {
	res, err := gojsonschema.Validate(stateSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return State{}, fmt.Errorf("validate view state: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, re := range res.Errors() {
			msgs = append(msgs, re.String())
		}
		return State{}, errors.New("invalid view state: " + strings.Join(msgs, "; "))
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode view state: %w", err)
	}
	return s, nil
}
