package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/MohamadSamaka/jira-TaskForge/internal/query"
	"github.com/MohamadSamaka/jira-TaskForge/internal/store"
	"github.com/rs/zerolog"
)

type stubService struct {
	issues  []domain.Issue
	run     *domain.SyncRun
	syncErr error
	synced  chan struct{}
}

func (s *stubService) RunSyncAsync() error {
	if s.syncErr != nil {
		return s.syncErr
	}
	if s.synced != nil {
		close(s.synced)
	}
	return nil
}

func (s *stubService) LastRun() (domain.SyncRun, bool) {
	if s.run == nil {
		return domain.SyncRun{}, false
	}
	return *s.run, true
}

func (s *stubService) LatestTakenAt() (time.Time, error) { return time.Time{}, nil }
func (s *stubService) Issues() ([]domain.Issue, error)   { return s.issues, nil }

func (s *stubService) Issue(key string) (domain.Issue, error) {
	for _, iss := range s.issues {
		if iss.Key == key {
			return iss, nil
		}
	}
	return domain.Issue{}, fmt.Errorf("issue %s: %w", key, domain.ErrNotFound)
}

func (s *stubService) Tree() ([]*query.Node, error) { return query.BuildTree(s.issues), nil }
func (s *stubService) Blocked() ([]query.BlockedIssue, error) {
	return []query.BlockedIssue{}, nil
}
func (s *stubService) Next(top int) ([]query.Ranked, error)     { return []query.Ranked{}, nil }
func (s *stubService) Today() ([]domain.Issue, error)           { return s.issues, nil }
func (s *stubService) ByProject() ([]query.ProjectGroup, error) { return nil, nil }
func (s *stubService) History(key string) ([]domain.HistoryDelta, error) {
	return []domain.HistoryDelta{}, nil
}
func (s *stubService) Snapshots(limit int) ([]store.SnapshotInfo, error) {
	return []store.SnapshotInfo{}, nil
}

func serve(t *testing.T, svc Service, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(config.Config{AppEnv: "test"}, zerolog.Nop(), svc)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestIssuesEnvelope(t *testing.T) {
	svc := &stubService{issues: []domain.Issue{{Key: "PROJ-1"}, {Key: "PROJ-2"}}}
	w := serve(t, svc, http.MethodGet, "/api/issues")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Total  int            `json:"total"`
		Issues []domain.Issue `json:"issues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 || len(body.Issues) != 2 {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestIssueNotFound(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/api/issues/PROJ-404")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestNextRejectsBadTop(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/api/query/next?top=zero")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
	w = serve(t, &stubService{}, http.MethodGet, "/api/query/next?top=-1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
	w = serve(t, &stubService{}, http.MethodGet, "/api/query/next?top=5")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestSyncQueued(t *testing.T) {
	svc := &stubService{synced: make(chan struct{})}
	w := serve(t, svc, http.MethodPost, "/admin/sync")
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d", w.Code)
	}
	select {
	case <-svc.synced:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never started")
	}
}

func TestSyncConflictWhenLeaseHeld(t *testing.T) {
	svc := &stubService{syncErr: fmt.Errorf("lease held: %w", domain.ErrBusy)}
	w := serve(t, svc, http.MethodPost, "/admin/sync")
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestLastSyncNever(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/admin/last-sync")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "never" {
		t.Fatalf("body = %s", w.Body.String())
	}
}
