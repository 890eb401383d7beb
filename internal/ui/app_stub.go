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

import "fmt"

// Run reports that this binary was built without the fyne tag, so headless
// builds need no OpenGL or C toolchain.
func Run(opts Options) error {
	if _, err := opts.document(); err != nil {
		return err
	}
	return fmt.Errorf("%w. Rebuild with: go run -tags fyne ./cmd/diagview ui <file>", ErrUnavailable)
}
