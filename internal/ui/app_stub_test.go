//go:build !fyne

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
	"errors"
	"strings"
	"testing"

	"diagview/internal/preview"
)

func TestRunStubExplainsRebuild(t *testing.T) {
	err := Run(Options{Path: "graph.dot", Manager: preview.NewManager(nil, nil, preview.Options{})})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Run() = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "-tags fyne") {
		t.Fatalf("error does not say how to rebuild: %q", err)
	}
}

func TestRunStubChecksOptionsFirst(t *testing.T) {
	if err := Run(Options{Path: "graph.dot"}); err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("Run() without manager = %v, want an options error", err)
	}
}
