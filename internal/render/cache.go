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
	"container/list"
	"context"
	"log/slog"
	"sync"

	applog "diagview/internal/log"
)

// Cache stores results by content key. Implementations live in storage
// (local SQLite) and backend (shared server).
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Put(ctx context.Context, key string, res Result) error
}

// Cached serves renders from a cache and fills it on a miss. Cache failures
// are logged and never fail a render.
type Cached struct {
	next  Renderer
	cache Cache
	log   *slog.Logger
}

// WithCache wraps r. A nil cache returns r unchanged.
func WithCache(r Renderer, c Cache) Renderer {
	if c == nil {
		return r
	}
	return &Cached{next: r, cache: c, log: applog.WithComponent("render.cache")}
}

// KeyFor implements Keyer by delegating to the wrapped renderer.
func (c *Cached) KeyFor(src []byte) string { return keyOf(c.next, src) }

func (c *Cached) Render(ctx context.Context, src []byte, onCancel func(action func())) (Result, error) {
	key := keyOf(c.next, src)
	if res, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.WarnContext(ctx, "cache get failed", slog.String("key", key), slog.Any("err", err))
	} else if ok {
		res.Key = key
		c.log.DebugContext(ctx, "cache hit", slog.String("key", key))
		return res, nil
	}
	res, err := c.next.Render(ctx, src, onCancel)
	if err != nil {
		return Result{}, err
	}
	res.Key = key
	if err := c.cache.Put(ctx, key, res); err != nil {
		c.log.WarnContext(ctx, "cache put failed", slog.String("key", key), slog.Any("err", err))
	}
	return res, nil
}

// Memory is an in-process LRU cache bounded by total image bytes.
type Memory struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

type memEntry struct {
	key string
	res Result
}

// NewMemory returns a cache holding at most maxBytes of image data;
// maxBytes <= 0 means unbounded.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{maxBytes: maxBytes, order: list.New(), items: map[string]*list.Element{}}
}

func (m *Memory) Get(_ context.Context, key string) (Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return Result{}, false, nil
	}
	m.order.MoveToFront(el)
	res := el.Value.(*memEntry).res
	res.Data = append([]byte(nil), res.Data...)
	return res, true, nil
}

func (m *Memory) Put(_ context.Context, key string, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res.Data = append([]byte(nil), res.Data...)
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		m.size += int64(len(res.Data)) - int64(len(e.res.Data))
		e.res = res
		m.order.MoveToFront(el)
	} else {
		m.items[key] = m.order.PushFront(&memEntry{key: key, res: res})
		m.size += int64(len(res.Data))
	}
	for m.maxBytes > 0 && m.size > m.maxBytes && m.order.Len() > 1 {
		oldest := m.order.Back()
		e := oldest.Value.(*memEntry)
		m.order.Remove(oldest)
		delete(m.items, e.key)
		m.size -= int64(len(e.res.Data))
	}
	return nil
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
