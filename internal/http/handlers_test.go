/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/eslam5464/JiraHub/internal/domain"
)

type stubService struct {
	loadErr     error
	issues      []jira.Issue
	spField     string
	lastTenant  string
	lastForce   bool
	lastBoards  []int64
	transitions map[string][]domain.StatusTransition
	invalidated []string
}

func (s *stubService) LoadIssues(_ context.Context, tenant, projectKey string, boardIDs []int64, force bool) ([]jira.Issue, string, error) {
	s.lastTenant, s.lastForce, s.lastBoards = tenant, force, boardIDs
	if s.loadErr != nil { return nil, "", s.loadErr }
	return s.issues, s.spField, nil
}

func (s *stubService) AnalyzeCycleTime(_ context.Context, tenant string, issueKeys []string) (map[string][]domain.StatusTransition, error) {
	s.lastTenant = tenant
	return s.transitions, nil
}

func (s *stubService) ValidateCredentials(context.Context, string) (jira.User, error) {
	return jira.User{AccountID: "me", DisplayName: "Dev"}, nil
}

func (s *stubService) ListBoards(context.Context, string, string) ([]jira.Board, error) {
	return []jira.Board{{ID: 7, Name: "Main", Type: "scrum"}}, nil
}

func (s *stubService) ListSprints(context.Context, string, int64, string) ([]jira.Sprint, error) {
	return nil, nil
}

func (s *stubService) SprintIssues(context.Context, string, int64, int64) ([]jira.Issue, error) {
	return nil, nil
}

func (s *stubService) GetIssue(context.Context, string, string) (jira.Issue, error) {
	return jira.Issue{}, nil
}

func (s *stubService) IssueWorklogs(context.Context, string, string) ([]jira.WorklogEntry, error) {
	return nil, nil
}

func (s *stubService) ProjectMembers(context.Context, string, string) ([]jira.User, error) {
	return nil, nil
}

func (s *stubService) InvalidateProjectCache(_ context.Context, tenant, projectKey string) {
	s.invalidated = append(s.invalidated, tenant+"/"+projectKey)
}

func (s *stubService) InvalidateAllCache(_ context.Context, tenant string) {
	s.invalidated = append(s.invalidated, tenant+"/*")
}

func (s *stubService) LastRefresh(context.Context, string, string) *time.Time { return nil }

func do(t *testing.T, svc service, method, target, tenant string, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(config.Config{AppEnv: "test"}, zerolog.Nop(), svc)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if tenant != "" { req.Header.Set("X-Tenant", tenant) }
	if body != "" { req.Header.Set("Content-Type", "application/json") }
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMissingTenantHeaderIsRejected(t *testing.T) {
	w := do(t, &stubService{}, http.MethodGet, "/api/projects/PRJ/issues", "", "")
	if w.Code != http.StatusBadRequest { t.Fatalf("expected 400, got %d", w.Code) }
}

func TestIssuesPassesRefreshAndBoardFilters(t *testing.T) {
	svc := &stubService{spField: "customfield_10016"}
	w := do(t, svc, http.MethodGet, "/api/projects/PRJ/issues?refresh=1&boards=7,9", "acme", "")
	if w.Code != http.StatusOK { t.Fatalf("expected 200, got %d: %s", w.Code, w.Body) }
	if svc.lastTenant != "acme" || !svc.lastForce { t.Fatalf("query not forwarded: %+v", svc) }
	if len(svc.lastBoards) != 2 || svc.lastBoards[0] != 7 || svc.lastBoards[1] != 9 {
		t.Fatalf("board filter not parsed: %v", svc.lastBoards)
	}
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		kind jira.ErrorKind
		want int
	}{
		{jira.KindAuth, http.StatusUnauthorized},
		{jira.KindPermission, http.StatusForbidden},
		{jira.KindRateLimit, http.StatusTooManyRequests},
		{jira.KindConnection, http.StatusBadGateway},
		{jira.KindRemote, http.StatusBadGateway},
	}
	for _, tc := range cases {
		svc := &stubService{loadErr: &jira.APIError{Kind: tc.kind, Messages: []string{"boom"}}}
		w := do(t, svc, http.MethodGet, "/api/projects/PRJ/issues", "acme", "")
		if w.Code != tc.want { t.Errorf("kind %s: expected %d, got %d", tc.kind, tc.want, w.Code) }
	}
}

func TestAuthFailureResponseCarriesReconnectHint(t *testing.T) {
	svc := &stubService{loadErr: &jira.APIError{Kind: jira.KindAuth, StatusCode: 401}}
	w := do(t, svc, http.MethodGet, "/api/projects/PRJ/issues", "acme", "")
	if w.Code != http.StatusUnauthorized { t.Fatalf("expected 401, got %d", w.Code) }
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil { t.Fatalf("decode: %v", err) }
	if body["hint"] == nil { t.Fatalf("expected reconnect hint, got %v", body) }
}

func TestCycleTimeRequiresIssueKeys(t *testing.T) {
	w := do(t, &stubService{}, http.MethodPost, "/api/cycle-time", "acme", `{"start_status":"In Progress"}`)
	if w.Code != http.StatusBadRequest { t.Fatalf("expected 400 without issue_keys, got %d", w.Code) }
}

func TestCycleTimeComputesPerIssue(t *testing.T) {
	start, _ := time.Parse(time.RFC3339, "2024-03-01T00:00:00Z")
	svc := &stubService{transitions: map[string][]domain.StatusTransition{
		"PRJ-1": {
			{IssueKey: "PRJ-1", FromStatus: "To Do", ToStatus: "In Progress", Timestamp: start},
			{IssueKey: "PRJ-1", FromStatus: "In Progress", ToStatus: "Done", Timestamp: start.Add(48 * time.Hour)},
		},
	}}
	w := do(t, svc, http.MethodPost, "/api/cycle-time", "acme", `{"issue_keys":["PRJ-1","PRJ-2"]}`)
	if w.Code != http.StatusOK { t.Fatalf("expected 200, got %d: %s", w.Code, w.Body) }

	var body struct {
		CycleTimes []struct {
			IssueKey string   `json:"issue_key"`
			Hours    *float64 `json:"hours"`
		} `json:"cycle_times"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil { t.Fatalf("decode: %v", err) }
	if len(body.CycleTimes) != 2 { t.Fatalf("expected a stat per requested key, got %+v", body.CycleTimes) }
	if body.CycleTimes[0].Hours == nil || *body.CycleTimes[0].Hours != 48 {
		t.Fatalf("expected 48h for PRJ-1, got %v", body.CycleTimes[0].Hours)
	}
	// Keys without transitions still get a row, with null hours.
	if body.CycleTimes[1].Hours != nil { t.Fatalf("expected null hours for PRJ-2, got %v", *body.CycleTimes[1].Hours) }

	// Each stat row carries exactly the issue key and hours.
	var raw struct {
		CycleTimes []map[string]json.RawMessage `json:"cycle_times"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil { t.Fatalf("decode raw: %v", err) }
	for _, row := range raw.CycleTimes {
		if len(row) != 2 { t.Fatalf("unexpected stat row shape: %v", row) }
	}
}

func TestCacheInvalidationRoutes(t *testing.T) {
	svc := &stubService{}
	if w := do(t, svc, http.MethodDelete, "/api/projects/PRJ/cache", "acme", ""); w.Code != http.StatusOK {
		t.Fatalf("project cache delete: %d", w.Code)
	}
	if w := do(t, svc, http.MethodDelete, "/api/cache", "acme", ""); w.Code != http.StatusOK {
		t.Fatalf("tenant cache delete: %d", w.Code)
	}
	if len(svc.invalidated) != 2 || svc.invalidated[0] != "acme/PRJ" || svc.invalidated[1] != "acme/*" {
		t.Fatalf("unexpected invalidations: %v", svc.invalidated)
	}
}

func TestHealthzNeedsNoTenant(t *testing.T) {
	if w := do(t, &stubService{}, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
