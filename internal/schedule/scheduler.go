/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package schedule runs a bounded number of tasks concurrently where the most
// recently admitted result wins. Older in-flight tasks are cancelled as soon as
// a newer one completes, and their results are dropped without notice.
package schedule

import (
	"context"
	"log/slog"
	"sync"

	applog "diagview/internal/log"
)

// Task does the actual work. It may register cleanup actions with onCancel;
// they run when the scheduler decides the task is obsolete. ctx is cancelled at
// the same moment.
type Task[T any] func(ctx context.Context, onCancel func(action func())) (T, error)

// handle is the cancellation trigger of one in-flight task.
type handle struct {
	ctx       context.Context
	stop      context.CancelFunc
	mu        sync.Mutex
	actions   []func()
	cancelled bool
}

func newHandle() *handle {
	ctx, stop := context.WithCancel(context.Background())
	return &handle{ctx: ctx, stop: stop}
}

// register adds a cancel action; after cancellation it runs immediately.
func (h *handle) register(action func()) {
	if action == nil {
		return
	}
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		action()
		return
	}
	h.actions = append(h.actions, action)
	h.mu.Unlock()
}

func (h *handle) cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	actions := h.actions
	h.actions = nil
	h.mu.Unlock()
	h.stop()
	for _, a := range actions {
		a()
	}
}

// release frees the context of a task that finished normally.
func (h *handle) release() { h.stop() }

type pending[T any] struct {
	task      Task[T]
	onResolve func(T)
	onReject  func(error)
}

// Scheduler admits at most MaxRunning tasks at once and keeps at most one
// waiting task. It is safe for concurrent use.
type Scheduler[T any] struct {
	maxRunning int
	log        *slog.Logger

	mu      sync.Mutex
	queue   []*handle
	waiting *pending[T]
	closed  bool

	// deliver serializes completion handling, callbacks included.
	deliver sync.Mutex
}

// New returns a scheduler running up to maxRunning tasks concurrently.
// Values below 1 are treated as 1.
func New[T any](maxRunning int) *Scheduler[T] {
	if maxRunning < 1 {
		maxRunning = 1
	}
	return &Scheduler[T]{maxRunning: maxRunning, log: applog.WithComponent("schedule")}
}

// Schedule starts task now if a slot is free. Otherwise it becomes the single
// waiting task, replacing any earlier waiting task, which is then never run and
// never reported. Exactly one of onResolve/onReject is called for an admitted
// task unless a newer task completes first.
func (s *Scheduler[T]) Schedule(task Task[T], onResolve func(T), onReject func(error)) {
	p := &pending[T]{task: task, onResolve: onResolve, onReject: onReject}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) < s.maxRunning {
		s.startLocked(p)
		return
	}
	if s.waiting != nil {
		s.log.Debug("waiting task replaced")
	}
	s.waiting = p
}

func (s *Scheduler[T]) startLocked(p *pending[T]) {
	h := newHandle()
	s.queue = append(s.queue, h)
	go func() {
		v, err := p.task(h.ctx, h.register)
		s.complete(h, p, v, err)
	}()
}

func (s *Scheduler[T]) complete(h *handle, p *pending[T], v T, err error) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	idx := -1
	for i, q := range s.queue {
		if q == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		h.release()
		s.log.Debug("stale result dropped")
		return
	}
	obsolete := append([]*handle(nil), s.queue[:idx]...)
	s.queue = append([]*handle(nil), s.queue[idx+1:]...)
	if s.waiting != nil && !s.closed {
		next := s.waiting
		s.waiting = nil
		s.startLocked(next)
	}
	s.mu.Unlock()

	for _, o := range obsolete {
		o.cancel()
	}
	h.release()
	if len(obsolete) > 0 {
		s.log.Debug("older tasks cancelled", slog.Int("count", len(obsolete)))
	}

	if err != nil {
		if p.onReject != nil {
			p.onReject(err)
		}
		return
	}
	if p.onResolve != nil {
		p.onResolve(v)
	}
}

// Stats reports the number of in-flight tasks and whether one is waiting.
func (s *Scheduler[T]) Stats() (running int, waiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.waiting != nil
}

// Close cancels every in-flight task and forgets the waiting one. Results that
// arrive afterwards are dropped and later Schedule calls are ignored.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	inflight := s.queue
	s.queue = nil
	s.waiting = nil
	s.mu.Unlock()
	for _, h := range inflight {
		h.cancel()
	}
}
