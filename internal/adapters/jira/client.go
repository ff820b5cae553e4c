/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package jira is the raw fetch client: authenticated, paginated search
// with endpoint fallback and bounded retries. It returns payloads as
// map[string]any; normalization happens downstream.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/rs/zerolog"
)

// errEndpointGone marks a 404/410 on a search endpoint. It drives the
// pagination strategy fallback and never escapes SearchPages.
var errEndpointGone = errors.New("endpoint gone")

type Client struct {
	baseURL    string
	authMode   string
	email      string
	token      string
	http       *http.Client
	maxRetries int
	pageSize   int
	workers    int
	log        zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	workers := cfg.FetchWorkers
	if workers <= 0 { workers = 4 }
	pageSize := cfg.JiraPageSize
	if pageSize <= 0 { pageSize = 100 }
	return &Client{
		baseURL:    strings.TrimRight(cfg.JiraBaseURL, "/"),
		authMode:   cfg.JiraAuthMode,
		email:      cfg.JiraEmail,
		token:      cfg.JiraAPIToken,
		http:       &http.Client{Timeout: cfg.JiraTimeout},
		maxRetries: cfg.JiraMaxRetries,
		pageSize:   pageSize,
		workers:    workers,
		log:        log,
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") { path = "/" + path }
	u := c.baseURL + path
	if len(q) > 0 { u = u + "?" + q.Encode() }
	return u
}

func (c *Client) authorize(req *http.Request) {
	if c.authMode == "server" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	req.SetBasicAuth(c.email, c.token)
}

// doJSON performs one API call with the retry policy: 429, 5xx and
// transport errors retry with exponential backoff plus jitter (Retry-After
// wins when the server sends one); 401, 403, 404/410 and other 4xx fail
// immediately. The decoded body is returned for 2xx.
func (c *Client) doJSON(ctx context.Context, method, u string, body any) (map[string]any, error) {
	if c.baseURL == "" {
		return nil, errors.New("jira: empty baseURL")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil { return nil, err }
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt-1, lastErr)); err != nil {
				return nil, err
			}
		}

		var r io.Reader
		if payload != nil { r = strings.NewReader(string(payload)) }
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil { return nil, err }
		req.Header.Set("Accept", "application/json")
		if payload != nil { req.Header.Set("Content-Type", "application/json") }
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil { return nil, ctx.Err() }
			lastErr = &retryErr{kind: domain.ErrTransient, msg: err.Error(), retryAfter: -1}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			return nil, fmt.Errorf("jira status=401 url=%s: %w", u, domain.ErrAuth)
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, fmt.Errorf("jira status=403 url=%s: %w", u, domain.ErrPermission)
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			resp.Body.Close()
			return nil, fmt.Errorf("jira status=%d url=%s: %w", resp.StatusCode, u, errEndpointGone)
		case resp.StatusCode == http.StatusTooManyRequests:
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryErr{
				kind:       domain.ErrRateLimited,
				msg:        strings.TrimSpace(string(b)),
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			continue
		case resp.StatusCode >= 500:
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryErr{kind: domain.ErrTransient, msg: fmt.Sprintf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b))), retryAfter: -1}
			continue
		case resp.StatusCode >= 300:
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("jira status=%d url=%s body=%s", resp.StatusCode, u, strings.TrimSpace(string(b)))
		}

		var out map[string]any
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil { return nil, fmt.Errorf("jira decode %s: %w", u, err) }
		return out, nil
	}
	re, _ := lastErr.(*retryErr)
	if re != nil {
		return nil, fmt.Errorf("jira retries exhausted url=%s detail=%s: %w", u, re.msg, re.kind)
	}
	return nil, fmt.Errorf("jira retries exhausted url=%s: %w", u, domain.ErrTransient)
}

type retryErr struct {
	kind       error
	msg        string
	retryAfter time.Duration
}

func (e *retryErr) Error() string { return e.msg }

func backoff(attempt int, last error) time.Duration {
	if re, ok := last.(*retryErr); ok && re.retryAfter >= 0 {
		return re.retryAfter
	}
	base := time.Duration(1<<uint(attempt)) * time.Second
	return base + time.Duration(rand.Intn(500))*time.Millisecond
}

// parseRetryAfter reads an integer-seconds Retry-After. -1 means absent or
// unusable, which falls back to exponential backoff.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 { return -1 }
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SearchPages streams search results page by page. fn returns false to stop
// early. The endpoint strategy is chosen once per call: the cursor endpoint
// first, then offset v3, then offset v2 for Server/DC; a 404/410 demotes to
// the next strategy, any other error surfaces.
func (c *Client) SearchPages(ctx context.Context, jql string, fn func(page []map[string]any) (bool, error)) error {
	if jql == "" {
		return errors.New("jira: empty jql")
	}
	strategies := []struct {
		name string
		run  func(context.Context, string, func([]map[string]any) (bool, error)) error
	}{
		{"cursor", c.searchCursor},
		{"offset-v3", c.searchOffsetV3},
		{"offset-v2", c.searchOffsetV2},
	}
	var lastErr error
	for _, s := range strategies {
		err := s.run(ctx, jql, fn)
		if errors.Is(err, errEndpointGone) {
			c.log.Debug().Str("strategy", s.name).Msg("search endpoint unavailable, trying next")
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("jira: no search endpoint available: %w: %v", domain.ErrTransient, lastErr)
}

func (c *Client) searchCursor(ctx context.Context, jql string, fn func([]map[string]any) (bool, error)) error {
	u := c.apiURL("/rest/api/3/search/jql", nil)
	token := ""
	for {
		body := map[string]any{"jql": jql, "maxResults": c.pageSize, "fields": []string{"*all"}}
		if token != "" { body["nextPageToken"] = token }
		out, err := c.doJSON(ctx, http.MethodPost, u, body)
		if err != nil { return err }
		more, err := fn(issuePage(out))
		if err != nil { return err }
		token, _ = out["nextPageToken"].(string)
		if isLast, _ := out["isLast"].(bool); isLast || token == "" || !more {
			return nil
		}
	}
}

func (c *Client) searchOffsetV3(ctx context.Context, jql string, fn func([]map[string]any) (bool, error)) error {
	u := c.apiURL("/rest/api/3/search", nil)
	startAt := 0
	for {
		body := map[string]any{"jql": jql, "startAt": startAt, "maxResults": c.pageSize, "fields": []string{"*all"}}
		out, err := c.doJSON(ctx, http.MethodPost, u, body)
		if err != nil { return err }
		page := issuePage(out)
		more, err := fn(page)
		if err != nil { return err }
		startAt += len(page)
		if !more || len(page) == 0 || startAt >= intField(out, "total") {
			return nil
		}
	}
}

func (c *Client) searchOffsetV2(ctx context.Context, jql string, fn func([]map[string]any) (bool, error)) error {
	startAt := 0
	for {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(c.pageSize))
		q.Set("fields", "*all")
		out, err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/search", q), nil)
		if err != nil { return err }
		page := issuePage(out)
		more, err := fn(page)
		if err != nil { return err }
		startAt += len(page)
		if !more || len(page) == 0 || startAt >= intField(out, "total") {
			return nil
		}
	}
}

func issuePage(out map[string]any) []map[string]any {
	arr, _ := out["issues"].([]any)
	page := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			page = append(page, m)
		}
	}
	return page
}

func intField(out map[string]any, key string) int {
	f, ok := out[key].(float64)
	if !ok { return 0 }
	return int(f)
}

// Issue fetches one issue with full fields, v3 first, v2 for Server/DC.
func (c *Client) Issue(ctx context.Context, key string) (map[string]any, error) {
	if key == "" {
		return nil, errors.New("jira: empty issue key")
	}
	q := url.Values{}
	q.Set("fields", "*all")
	out, err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/3/issue/"+url.PathEscape(key), q), nil)
	if errors.Is(err, errEndpointGone) {
		out, err = c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/issue/"+url.PathEscape(key), q), nil)
	}
	if errors.Is(err, errEndpointGone) {
		return nil, fmt.Errorf("jira issue %s: %w", key, domain.ErrNotFound)
	}
	return out, err
}

// IssuesByKeys fetches a batch with a bounded number of in-flight requests.
// Per-key misses land in failed; auth, permission, rate-limit exhaustion and
// cancellation abort the whole batch.
func (c *Client) IssuesByKeys(ctx context.Context, keys []string) (map[string]map[string]any, []string, error) {
	found := make(map[string]map[string]any, len(keys))
	var failed []string
	var fatal error
	var mu sync.Mutex

	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	for _, key := range keys {
		mu.Lock()
		stop := fatal != nil
		mu.Unlock()
		if stop { break }

		wg.Add(1)
		sem <- struct{}{}
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()
			raw, err := c.Issue(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				found[key] = raw
			case errors.Is(err, domain.ErrAuth),
				errors.Is(err, domain.ErrPermission),
				errors.Is(err, domain.ErrRateLimited),
				errors.Is(err, context.Canceled),
				errors.Is(err, context.DeadlineExceeded):
				if fatal == nil { fatal = err }
			default:
				c.log.Warn().Err(err).Str("key", key).Msg("issue fetch failed")
				failed = append(failed, key)
			}
		}(key)
	}
	wg.Wait()
	if fatal != nil {
		return nil, nil, fatal
	}
	return found, failed, nil
}

// Myself probes authentication, v3 first then v2.
func (c *Client) Myself(ctx context.Context) (map[string]any, error) {
	out, err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/3/myself", nil), nil)
	if errors.Is(err, errEndpointGone) {
		return c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/myself", nil), nil)
	}
	return out, err
}
