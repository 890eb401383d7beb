/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report and saves open view states
// before the process exits.
package crash

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "diagview/internal/log"
	"diagview/internal/telemetry"
	"diagview/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// flushTimeout bounds the work done after a panic.
const flushTimeout = 3 * time.Second

// Flusher persists state that would otherwise be lost. preview.Manager
// implements it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Recover captures a panic, logs it with a stacktrace, writes a report under
// dir (the temp dir when empty), flushes f and exits with code 2.
//
// Usage: defer crash.Recover(dir, manager)
func Recover(dir string, f Flusher) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if f != nil {
		if err := f.Flush(ctx); err != nil {
			l.Error("flush view states failed", slog.Any("err", err))
		} else {
			l.Info("view states saved")
		}
	}

	report := buildReport(r, stack)
	reportPath, err := writeReport(dir, report)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if err := telemetry.Default().UploadCrash(ctx, report); err != nil {
		l.Warn("crash upload failed", slog.Any("err", err))
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

func buildReport(panicVal any, stack []byte) []byte {
	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "diagview crash report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(&buf, "Goroutines: %d\n", runtime.NumGoroutine())
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))
	return buf.Bytes()
}

func writeReport(dir string, report []byte) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()
	if _, err := f.Write(report); err != nil {
		return path, err
	}
	_ = f.Sync()
	return path, nil
}
