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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	applog "diagview/internal/log"
)

// maxRemoteBody caps the size of a rendered image fetched from a server.
const maxRemoteBody = 32 << 20

// Remote renders through a Kroki-compatible HTTP service:
// POST {BaseURL}/{Engine}/{Format} with the source as body.
type Remote struct {
	BaseURL string
	Engine  string
	Format  string // defaults to svg
	Token   string // bearer token, optional
	client  *http.Client
}

// NewRemote creates a remote renderer. A zero timeout means 30 seconds.
func NewRemote(baseURL, engine, token string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Engine:  engine,
		Format:  "svg",
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Remote) format() string {
	if r.Format == "" {
		return "svg"
	}
	return r.Format
}

// KeyFor implements Keyer.
func (r *Remote) KeyFor(src []byte) string {
	return Key(r.Engine+"|remote", []string{r.format()}, src)
}

// Render posts src to the service. Cancellation aborts the request.
func (r *Remote) Render(ctx context.Context, src []byte, onCancel func(action func())) (Result, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	if onCancel != nil {
		onCancel(stop)
	}
	u := r.BaseURL + "/" + r.Engine + "/" + r.format()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(src))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	client := r.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("render %s: %w", u, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("read %s: %w", u, err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		// The service reports syntax errors as 400 with the compiler text.
		return Result{}, &Error{Engine: r.Engine, Diagnostics: string(body), Err: errors.New(resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("server POST %s: %s", req.URL.Path, resp.Status)
	}
	res, err := finish(r.Engine, r.KeyFor(src), body)
	if err != nil {
		return Result{}, err
	}
	applog.WithOperation(applog.WithComponent("render"), "remote").DebugContext(applog.ContextWithEngine(ctx, r.Engine),
		"rendered", slog.Int("bytes", len(body)))
	return res, nil
}
