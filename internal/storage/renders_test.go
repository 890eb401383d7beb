/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"testing"
	"time"

	"diagview/internal/layout"
	"diagview/internal/render"
)

func TestRendersPutGet(t *testing.T) {
	idx := openTestIndex(t, 0)
	ctx := context.Background()
	want := render.Result{Data: []byte("<svg/>"), Format: "svg", Size: layout.Size{W: 96.5, H: 48}}
	if err := idx.Put(ctx, "abc", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := idx.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if !bytes.Equal(got.Data, want.Data) || got.Format != "svg" || got.Size != want.Size || got.Key != "abc" {
		t.Fatalf("Get = %+v", got)
	}
	if _, ok, err := idx.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing = %v, %v", ok, err)
	}
	if err := idx.Put(ctx, " ", want); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestRendersEvictLeastRecentlyUsed(t *testing.T) {
	idx := openTestIndex(t, 100)
	ctx := context.Background()
	put := func(key string) {
		t.Helper()
		if err := idx.Put(ctx, key, render.Result{Format: "png", Data: make([]byte, 40)}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct access times
	}
	put("a")
	put("b")
	if _, ok, _ := idx.Get(ctx, "a"); !ok {
		t.Fatalf("a missing")
	}
	time.Sleep(2 * time.Millisecond)
	put("c")

	total, err := idx.TotalBytes(ctx)
	if err != nil {
		t.Fatalf("TotalBytes: %v", err)
	}
	if total > 100 {
		t.Fatalf("expected eviction to <=100 bytes, got %d", total)
	}
	if _, ok, _ := idx.Get(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := idx.Get(ctx, k); !ok {
			t.Fatalf("%s evicted", k)
		}
	}
}

func TestPurgeKeepsViewStates(t *testing.T) {
	idx := openTestIndex(t, 0)
	ctx := context.Background()
	_ = idx.Put(ctx, "k", render.Result{Format: "svg", Data: []byte("<svg/>")})
	_ = idx.SaveViewState(ctx, "doc", layout.State{Mode: "fit"})
	if err := idx.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if total, _ := idx.TotalBytes(ctx); total != 0 {
		t.Fatalf("total after purge = %d", total)
	}
	if _, ok, _ := idx.LoadViewState(ctx, "doc"); !ok {
		t.Fatalf("view state lost")
	}
}

func TestMaxBytesFromEnv(t *testing.T) {
	t.Setenv(EnvMaxBytes, "2048")
	if got := MaxBytesFromEnv(); got != 2048 {
		t.Fatalf("MaxBytesFromEnv = %d", got)
	}
	t.Setenv(EnvMaxBytes, "-3")
	if got := MaxBytesFromEnv(); got != defaultMaxBytes {
		t.Fatalf("MaxBytesFromEnv = %d", got)
	}
}

func TestIndexBacksCachedRenderer(t *testing.T) {
	idx := openTestIndex(t, 0)
	calls := 0
	r := render.WithCache(render.Func(func(context.Context, []byte, func(func())) (render.Result, error) {
		calls++
		return render.Result{Data: []byte("<svg width='1' height='1'/>"), Format: "svg", Size: layout.Size{W: 1, H: 1}}, nil
	}), idx)
	for i := 0; i < 2; i++ {
		if _, err := r.Render(context.Background(), []byte("digraph{}"), nil); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("renderer called %d times", calls)
	}
}
