/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package source delivers document contents as they change on disk.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	applog "diagview/internal/log"
)

// Read returns the current contents of path.
func Read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return b, nil
}

// Watch calls onChange with the contents of path, first with what is on disk
// now and then after every change, until ctx is done. Writes that leave the
// contents unchanged or empty are not reported. The parent directory is watched so
// editors that save by renaming a temp file are followed.
func Watch(ctx context.Context, path string, onChange func([]byte)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	l := applog.WithComponent("source").With(slog.String("path", abs))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			l.Warn("watcher close", slog.Any("err", err))
		}
	}()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var last []byte
	deliver := func() {
		b, err := os.ReadFile(abs)
		if err != nil {
			// Mid-save the file may briefly not exist.
			l.Debug("read skipped", slog.Any("err", err))
			return
		}
		if len(b) == 0 {
			// Truncated by a save in progress; the write that follows is reported.
			return
		}
		if last != nil && bytes.Equal(b, last) {
			return
		}
		last = b
		onChange(b)
	}

	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	deliver()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				l.Debug("document event", slog.String("op", ev.Op.String()))
				deliver()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			l.Warn("watch error", slog.Any("err", err))
		}
	}
}
