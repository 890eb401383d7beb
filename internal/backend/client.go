/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"diagview/internal/layout"
	"diagview/internal/render"
)

var _ render.Cache = (*Client)(nil)

// Client talks to the shared render cache server. It implements render.Cache.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string, timeout time.Duration, tlsInsecure bool) *Client {
	b := strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if tlsInsecure {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev servers
		hc.Transport = tr
	}
	return &Client{BaseURL: b, Token: token, client: hc}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// statusError reads the server's JSON error, if any.
func statusError(method string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("server %s %s: %s: %s", method, resp.Request.URL.Path, resp.Status, body.Error)
	}
	return fmt.Errorf("server %s %s: %s", method, resp.Request.URL.Path, resp.Status)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, dest any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, resp)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(dest)
}

// Token is a bearer token issued by the server.
type Token struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// RequestToken asks the server for a token for subject.
func (c *Client) RequestToken(ctx context.Context, subject string, ttl time.Duration) (Token, error) {
	var tok Token
	in := map[string]any{"subject": subject, "ttl_seconds": int64(ttl / time.Second)}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", in, &tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Stats returns the server's cache summary.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", nil, &st); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Get implements render.Cache. A missing render is not an error.
func (c *Client) Get(ctx context.Context, key string) (render.Result, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/renders/"+url.PathEscape(key), nil)
	if err != nil {
		return render.Result{}, false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return render.Result{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return render.Result{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return render.Result{}, false, statusError(http.MethodGet, resp)
	}
	format, ok := formatFromContentType(resp.Header.Get("Content-Type"))
	if !ok {
		return render.Result{}, false, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	w, werr := strconv.ParseFloat(resp.Header.Get(HeaderWidth), 64)
	h, herr := strconv.ParseFloat(resp.Header.Get(HeaderHeight), 64)
	if err := errors.Join(werr, herr); err != nil {
		return render.Result{}, false, fmt.Errorf("image size headers: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRenderBody))
	if err != nil {
		return render.Result{}, false, err
	}
	return render.Result{Data: data, Format: format, Size: layout.Size{W: w, H: h}, Key: key}, true, nil
}

// Put implements render.Cache.
func (c *Client) Put(ctx context.Context, key string, res render.Result) error {
	ct, ok := formats[res.Format]
	if !ok {
		return fmt.Errorf("unsupported format %q", res.Format)
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/api/renders/"+url.PathEscape(key), bytes.NewReader(res.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set(HeaderWidth, strconv.FormatFloat(res.Size.W, 'g', -1, 64))
	req.Header.Set(HeaderHeight, strconv.FormatFloat(res.Size.H, 'g', -1, 64))
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(http.MethodPut, resp)
	}
	return nil
}
