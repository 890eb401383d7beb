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
	"math"
	"strings"
	"testing"
)

func TestSnapshotRestoresFixed(t *testing.T) {
	v := newRecordingView(t)
	e := New(v, fixedParams())
	e.ToggleIsIdentityAt(v, 3, 4)

	data, err := EncodeState(e.Snapshot())
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	st, err := DecodeState(data)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	p, err := st.Params(e.Viewport(), e.Image())
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	v2 := newRecordingView(t)
	New(v2, p)
	if v2.state != v.state {
		t.Fatalf("restored view %+v, want %+v", v2.state, v.state)
	}
}

func TestSnapshotKeepsRememberedLayout(t *testing.T) {
	v := newRecordingView(t)
	e := New(v, fixedParams())
	e.SwitchToAutoFitLayout(v)
	e.OnImageSizeChanged(v, 100, 35)

	st := e.Snapshot()
	if st.Mode != "autofit" {
		t.Fatalf("mode = %q", st.Mode)
	}
	p, err := st.Params(e.Viewport(), e.Image())
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	v2 := newRecordingView(t)
	e2 := New(v2, p)
	if v2.state != v.state {
		t.Fatalf("restored autofit view %+v, want %+v", v2.state, v.state)
	}
	e.SwitchToFixedLayout(v)
	e2.SwitchToFixedLayout(v2)
	if v2.state != v.state {
		t.Fatalf("fixed layout after restore %+v, want %+v", v2.state, v.state)
	}
}

func TestSnapshotWithoutRememberedLayout(t *testing.T) {
	e := New(nil, Params{Viewport: Size{W: 10, H: 10}, Image: Size{W: 5, H: 5}, Mode: ModeFit})
	if st := e.Snapshot(); st != (State{Mode: "fit"}) {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestStateFinite(t *testing.T) {
	if !(State{Mode: "fixed", Scale: 2, X: -3, Y: 4}).Finite() {
		t.Fatalf("plain state reported non-finite")
	}
	for _, st := range []State{
		{Mode: "fixed", Scale: math.Inf(1)},
		{Mode: "fixed", Scale: 1, X: math.Inf(-1)},
		{Mode: "fixed", Scale: 1, Y: math.NaN()},
	} {
		if st.Finite() {
			t.Errorf("%+v reported finite", st)
		}
	}
}

func TestDecodeStateRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown mode":  `{"mode":"zoom","center":true,"identity":false,"scale":1,"x":0,"y":0}`,
		"missing field": `{"mode":"fit"}`,
		"negative":      `{"mode":"fixed","center":true,"identity":false,"scale":-1,"x":0,"y":0}`,
		"extra field":   `{"mode":"fixed","center":true,"identity":false,"scale":1,"x":0,"y":0,"z":1}`,
	}
	for name, doc := range cases {
		if _, err := DecodeState([]byte(doc)); err == nil || !strings.Contains(err.Error(), "view state") {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeFixed, ModeFit, ModeAutoFit} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("zoomed"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
