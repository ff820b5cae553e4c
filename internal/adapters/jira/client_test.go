package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/rs/zerolog"
)

func testClient(t *testing.T, url, mode string) *Client {
	t.Helper()
	cfg := config.Config{
		JiraBaseURL:    url,
		JiraAuthMode:   mode,
		JiraEmail:      "dev@example.com",
		JiraAPIToken:   "tok",
		JiraTimeout:    5 * time.Second,
		JiraMaxRetries: 2,
		JiraPageSize:   2,
		FetchWorkers:   2,
	}
	return NewClient(cfg, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func searchPage(keys []string, next string, last bool) map[string]any {
	issues := make([]any, 0, len(keys))
	for _, k := range keys {
		issues = append(issues, map[string]any{"key": k, "fields": map[string]any{}})
	}
	out := map[string]any{"issues": issues, "isLast": last}
	if next != "" {
		out["nextPageToken"] = next
	}
	return out
}

func TestCloudAuthUsesBasic(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		writeJSON(w, map[string]any{"accountId": "me"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	if _, err := c.Myself(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotUser != "dev@example.com" || gotPass != "tok" {
		t.Fatalf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestServerAuthUsesBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, map[string]any{"name": "me"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "server")
	if _, err := c.Myself(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestUnauthorizedFailsWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	_, err := c.Myself(context.Background())
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestForbiddenFailsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	if _, err := c.Myself(context.Background()); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("err = %v", err)
	}
}

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"accountId": "me"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	if _, err := c.Myself(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRateLimitExhaustionKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	if _, err := c.Myself(context.Background()); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
}

func TestSearchPagesCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search/jql" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if tok, _ := body["nextPageToken"].(string); tok == "t2" {
			writeJSON(w, searchPage([]string{"A-3"}, "", true))
			return
		}
		writeJSON(w, searchPage([]string{"A-1", "A-2"}, "t2", false))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	var got []string
	err := c.SearchPages(context.Background(), "project = A", func(page []map[string]any) (bool, error) {
		for _, raw := range page {
			got = append(got, raw["key"].(string))
		}
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "A-1,A-2,A-3" {
		t.Fatalf("got %v", got)
	}
}

func TestSearchPagesFallsBackToOffset(t *testing.T) {
	var cursorCalls, offsetCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/search/jql":
			atomic.AddInt32(&cursorCalls, 1)
			w.WriteHeader(http.StatusNotFound)
		case "/rest/api/3/search":
			n := atomic.AddInt32(&offsetCalls, 1)
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			page := searchPage([]string{"A-1", "A-2"}, "", false)
			if n > 1 {
				page = searchPage([]string{"A-3"}, "", false)
			}
			page["total"] = 3.0
			writeJSON(w, page)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	var got []string
	err := c.SearchPages(context.Background(), "project = A", func(page []map[string]any) (bool, error) {
		for _, raw := range page {
			got = append(got, raw["key"].(string))
		}
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if cursorCalls != 1 {
		t.Fatalf("cursor endpoint probed %d times, fallback must pin", cursorCalls)
	}
	if strings.Join(got, ",") != "A-1,A-2,A-3" {
		t.Fatalf("got %v", got)
	}
}

func TestSearchPagesServerFallsBackToV2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/search/jql", "/rest/api/3/search":
			w.WriteHeader(http.StatusNotFound)
		case "/rest/api/2/search":
			if r.Method != http.MethodGet {
				t.Errorf("v2 search method = %s", r.Method)
			}
			page := searchPage([]string{"A-1"}, "", false)
			page["total"] = 1.0
			writeJSON(w, page)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "server")
	var got int
	err := c.SearchPages(context.Background(), "project = A", func(page []map[string]any) (bool, error) {
		got += len(page)
		return true, nil
	})
	if err != nil || got != 1 {
		t.Fatalf("got %d, err %v", got, err)
	}
}

func TestSearchPagesEarlyStop(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, searchPage([]string{"A-1", "A-2"}, "more", false))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	err := c.SearchPages(context.Background(), "project = A", func(page []map[string]any) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestIssuesByKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/MISS-1") {
			// both v3 and v2 miss
			w.WriteHeader(http.StatusNotFound)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		key := parts[len(parts)-1]
		writeJSON(w, map[string]any{"key": key, "fields": map[string]any{}})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	found, failed, err := c.IssuesByKeys(context.Background(), []string{"A-1", "MISS-1", "A-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found["A-1"] == nil || found["A-2"] == nil {
		t.Fatalf("found = %v", found)
	}
	if len(failed) != 1 || failed[0] != "MISS-1" {
		t.Fatalf("failed = %v", failed)
	}
}

func TestIssuesByKeysAuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "cloud")
	_, _, err := c.IssuesByKeys(context.Background(), []string{"A-1", "A-2"})
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
}

func TestIssueFallsBackToV2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/rest/api/3/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"key": "A-1", "fields": map[string]any{}})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, "server")
	raw, err := c.Issue(context.Background(), "A-1")
	if err != nil {
		t.Fatal(err)
	}
	if raw["key"] != "A-1" {
		t.Fatalf("raw = %v", raw)
	}
}
