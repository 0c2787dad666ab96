package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c := NewClient(srv.URL, "dev@example.com", "token", zerolog.Nop(), opts...)
	t.Cleanup(c.Close)
	return c
}

func TestSearchIssuesFollowsPageTokensAndTruncatesToCap(t *testing.T) {
	// Three pages of 2 issues each; the caller caps at 5.
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var body struct {
			JQL           string `json:"jql"`
			NextPageToken string `json:"nextPageToken"`
			MaxResults    int    `json:"maxResults"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.JQL == "" { t.Errorf("missing jql in request body") }
		page := 0
		switch body.NextPageToken {
		case "":
			page = 0
		case "tok-1":
			page = 1
		case "tok-2":
			page = 2
		default:
			t.Errorf("unexpected page token %q", body.NextPageToken)
		}
		resp := map[string]any{
			"issues": []map[string]any{
				{"id": fmt.Sprint(page*2 + 1), "key": fmt.Sprintf("PRJ-%d", page*2+1), "fields": map[string]any{"status": map[string]any{"name": "To Do"}, "issuetype": map[string]any{"name": "Task"}}},
				{"id": fmt.Sprint(page*2 + 2), "key": fmt.Sprintf("PRJ-%d", page*2+2), "fields": map[string]any{"status": map[string]any{"name": "To Do"}, "issuetype": map[string]any{"name": "Task"}}},
			},
		}
		if page < 2 { resp["nextPageToken"] = fmt.Sprintf("tok-%d", page+1) }
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	issues, err := c.SearchIssues(context.Background(), "project = PRJ", nil, 5)
	if err != nil { t.Fatalf("SearchIssues: %v", err) }
	if len(issues) != 5 { t.Fatalf("expected 5 issues, got %d", len(issues)) }
	if requests != 3 { t.Fatalf("expected 3 page requests, got %d", requests) }
	if issues[4].Key != "PRJ-5" { t.Fatalf("unexpected last issue %q", issues[4].Key) }
}

func TestBoardsOffsetPaginationMergesAllPages(t *testing.T) {
	// Two pages, isLast=false then true; merged length equals the sum.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		page := map[string]any{"maxResults": 2, "startAt": startAt}
		if startAt == 0 {
			page["values"] = []map[string]any{{"id": 1, "name": "Alpha", "type": "scrum"}, {"id": 2, "name": "Beta", "type": "kanban"}}
			page["isLast"] = false
		} else {
			page["values"] = []map[string]any{{"id": 3, "name": "Gamma", "type": "scrum"}}
			page["isLast"] = true
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	boards, err := c.Boards(context.Background(), "PRJ", "", 0)
	if err != nil { t.Fatalf("Boards: %v", err) }
	if len(boards) != 3 { t.Fatalf("expected 3 boards, got %d", len(boards)) }
	if boards[2].Name != "Gamma" { t.Fatalf("unexpected board order: %+v", boards) }
}

func TestBoardsStopOnNonAdvancingPage(t *testing.T) {
	// A malformed page omitting maxResults with isLast=false must not loop
	// re-fetching offset 0 forever.
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"values": []map[string]any{{"id": 1, "name": "Alpha", "type": "scrum"}},
			"isLast": false,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	boards, err := c.Boards(context.Background(), "PRJ", "", 0)
	if err != nil { t.Fatalf("Boards: %v", err) }
	if requests != 1 { t.Fatalf("expected a single request for a non-advancing page, got %d", requests) }
	if len(boards) != 1 { t.Fatalf("expected the page's boards returned, got %d", len(boards)) }
}

func TestRateLimitRetriesExhaustBudgetWithGrowingBackoff(t *testing.T) {
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, time.Now())
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Myself(context.Background())
	if err == nil { t.Fatal("expected rate limit error") }
	if KindOf(err) != KindRateLimit { t.Fatalf("expected rate_limit kind, got %v", err) }
	var ae *APIError
	if !asAPIError(err, &ae) || ae.RetryAfter != 1 { t.Fatalf("expected retry_after=1, got %+v", ae) }
	if len(hits) != 3 { t.Fatalf("expected exactly 3 attempts, got %d", len(hits)) }
	// Backoff doubles per attempt: gap between attempts 2 and 3 exceeds the
	// gap between attempts 1 and 2.
	if hits[2].Sub(hits[1]) <= hits[1].Sub(hits[0]) {
		t.Fatalf("expected monotonically increasing waits: %v then %v", hits[1].Sub(hits[0]), hits[2].Sub(hits[1]))
	}
}

func TestTimeoutRetriesThenFailsAsConnectionError(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(t, srv, WithTimeout(100*time.Millisecond), WithRetries(2))
	start := time.Now()
	_, err := c.Myself(context.Background())
	if err == nil { t.Fatal("expected timeout to surface") }
	if KindOf(err) != KindConnection { t.Fatalf("expected connection kind, got %v", err) }
	if got := attempts.Load(); got != 2 { t.Fatalf("expected 2 attempts, got %d", got) }
	// One backoff of 2^(0+1) seconds separates the attempts.
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Fatalf("expected a backoff sleep between attempts, elapsed only %v", elapsed)
	}
}

func TestAuthFailureShortCircuits(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Myself(context.Background())
	if KindOf(err) != KindAuth { t.Fatalf("expected auth kind, got %v", err) }
	if requests != 1 { t.Fatalf("401 must not be retried: got %d attempts", requests) }
}

func TestForbiddenShortCircuits(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Fields(context.Background())
	if KindOf(err) != KindPermission { t.Fatalf("expected permission kind, got %v", err) }
	if requests != 1 { t.Fatalf("403 must not be retried: got %d attempts", requests) }
}

func TestRemoteErrorCarriesServerMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"errorMessages": []string{"jql is invalid"}})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.SearchIssues(context.Background(), "bogus ~~", nil, 10)
	var ae *APIError
	if !asAPIError(err, &ae) { t.Fatalf("expected APIError, got %v", err) }
	if ae.Kind != KindRemote || ae.StatusCode != 400 { t.Fatalf("unexpected error: %+v", ae) }
	if len(ae.Messages) != 1 || ae.Messages[0] != "jql is invalid" {
		t.Fatalf("expected server message preserved, got %v", ae.Messages)
	}
}

func TestAuthHeaderIsBasicFromEmailAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// base64("dev@example.com:token")
		if got := r.Header.Get("Authorization"); got != "Basic ZGV2QGV4YW1wbGUuY29tOnRva2Vu" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"accountId": "abc", "displayName": "Dev"})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	u, err := c.Myself(context.Background())
	if err != nil { t.Fatalf("Myself: %v", err) }
	if u.AccountID != "abc" { t.Fatalf("unexpected user: %+v", u) }
}

func TestDiscoverFieldByNameIsCaseInsensitiveAndAbsenceIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "summary", "name": "Summary"},
			{"id": "customfield_10016", "name": "Story Points", "custom": true},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	id, err := c.DiscoverFieldByName(context.Background(), "story points")
	if err != nil { t.Fatalf("DiscoverFieldByName: %v", err) }
	if id != "customfield_10016" { t.Fatalf("expected customfield_10016, got %q", id) }

	id, err = c.DiscoverFieldByName(context.Background(), "Team")
	if err != nil { t.Fatalf("absence must not be an error: %v", err) }
	if id != "" { t.Fatalf("expected empty id for missing field, got %q", id) }
}

func TestStatusTransitionsKeepOnlyStatusItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"values": []map[string]any{
				{"id": "1", "created": "2024-03-01T09:00:00.000+0000", "items": []map[string]any{
					{"field": "assignee", "fromString": "", "toString": "Alice"},
					{"field": "status", "fromString": "To Do", "toString": "In Progress"},
				}},
				{"id": "2", "created": "2024-03-02T09:00:00.000+0000", "items": []map[string]any{
					{"field": "status", "fromString": "In Progress", "toString": "Done"},
				}},
			},
			"maxResults": 100, "startAt": 0, "total": 2, "isLast": true,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	transitions, err := c.StatusTransitions(context.Background(), "PRJ-1")
	if err != nil { t.Fatalf("StatusTransitions: %v", err) }
	if len(transitions) != 2 { t.Fatalf("expected 2 transitions, got %d", len(transitions)) }
	if transitions[0].FromStatus != "To Do" || transitions[0].ToStatus != "In Progress" {
		t.Fatalf("unexpected first transition: %+v", transitions[0])
	}
	if transitions[1].ToStatus != "Done" { t.Fatalf("unexpected second transition: %+v", transitions[1]) }
	if !transitions[1].Timestamp.After(transitions[0].Timestamp) {
		t.Fatalf("timestamps not ordered: %+v", transitions)
	}
}

func TestIssueFieldsRoundTripPreservesUnknownCustomFields(t *testing.T) {
	payload := []byte(`{"id":"1","key":"PRJ-1","fields":{` +
		`"summary":"Fix login",` +
		`"status":{"name":"In Progress"},` +
		`"issuetype":{"name":"Bug"},` +
		`"customfield_10016":8.5,` +
		`"customfield_10020":[{"id":3,"name":"Sprint 3","state":"active"}]}}`)

	var iss Issue
	if err := json.Unmarshal(payload, &iss); err != nil { t.Fatalf("unmarshal: %v", err) }
	if sp := iss.StoryPoints("customfield_10016"); sp == nil || *sp != 8.5 {
		t.Fatalf("expected story points 8.5, got %v", sp)
	}
	if s := iss.Sprint("customfield_10020"); s == nil || s.Name != "Sprint 3" {
		t.Fatalf("expected sprint from list form, got %+v", s)
	}

	out, err := json.Marshal(iss)
	if err != nil { t.Fatalf("marshal: %v", err) }
	var back Issue
	if err := json.Unmarshal(out, &back); err != nil { t.Fatalf("re-unmarshal: %v", err) }
	if string(back.Fields.Extra["customfield_10016"]) != "8.5" {
		t.Fatalf("custom field value not preserved verbatim: %s", back.Fields.Extra["customfield_10016"])
	}
	if sp := back.StoryPoints("customfield_10016"); sp == nil || *sp != 8.5 {
		t.Fatalf("story points lost in round trip: %v", sp)
	}
}

func asAPIError(err error, target **APIError) bool { return errors.As(err, target) }
