/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eslam5464/JiraHub/internal/domain"
	"github.com/rs/zerolog"
)

const defaultPageSize = 50

// defaultIssueFields is the field list requested when the caller passes none.
var defaultIssueFields = []string{
	"summary", "status", "assignee", "reporter", "issuetype", "priority",
	"duedate", "labels", "created", "updated", "resolutiondate",
	"parent", "issuelinks", "subtasks", "timetracking",
}

// Client is an authenticated Jira Cloud API client for one tenant. The basic
// auth header is built once at construction; the underlying HTTP pool is
// created lazily on first request and released by Close.
type Client struct {
	baseURL    string
	authHeader string
	proxyURL   string
	timeout    time.Duration
	maxRetries int
	log        zerolog.Logger

	once  sync.Once
	httpc *http.Client
}

type Option func(*Client)

func WithProxy(proxyURL string) Option { return func(c *Client) { c.proxyURL = proxyURL } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 { c.maxRetries = n }
	}
}

func NewClient(baseURL, email, apiToken string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+apiToken)),
		timeout:    30 * time.Second,
		maxRetries: 3,
		log:        log,
	}
	for _, o := range opts { o(c) }
	return c
}

func (c *Client) client() *http.Client {
	c.once.Do(func() {
		tr := &http.Transport{}
		if c.proxyURL != "" {
			if pu, err := url.Parse(c.proxyURL); err == nil { tr.Proxy = http.ProxyURL(pu) }
		}
		c.httpc = &http.Client{Timeout: c.timeout, Transport: tr}
	})
	return c.httpc
}

// Close releases the connection pool. Safe to call without prior requests.
func (c *Client) Close() {
	if c.httpc != nil { c.httpc.CloseIdleConnections() }
}

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") { path = "/" + path }
	u := c.baseURL + path
	if len(q) > 0 { u = u + "?" + q.Encode() }
	return u
}

// request is the single primitive every endpoint is built on. It applies the
// retry/backoff policy: 429 backs off Retry-After*2^attempt, timeouts back off
// 2^(attempt+1) seconds, 401/403 and connect failures fail immediately.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	if c.baseURL == "" { return nil, connErr(nil, "empty base URL") }
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil { return nil, connErr(err, "encode request body") }
		payload = b
	}
	u := c.apiURL(path, params)

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		var r *bytes.Reader
		if payload != nil { r = bytes.NewReader(payload) }
		var req *http.Request
		var err error
		if r != nil {
			req, err = http.NewRequestWithContext(ctx, method, u, r)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, u, nil)
		}
		if err != nil { return nil, connErr(err, "build request") }
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("Accept", "application/json")
		if payload != nil { req.Header.Set("Content-Type", "application/json") }

		resp, err := c.client().Do(req)
		if err != nil {
			if ctx.Err() != nil { return nil, connErr(ctx.Err(), "request canceled") }
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if attempt < c.maxRetries-1 {
					wait := time.Duration(1<<(attempt+1)) * time.Second
					c.log.Warn().Dur("wait", wait).Int("attempt", attempt+1).Str("path", path).Msg("jira request timeout, retrying")
					if err := sleepCtx(ctx, wait); err != nil { return nil, connErr(err, "request canceled") }
					continue
				}
				return nil, connErr(err, "request timed out after %d attempts", c.maxRetries)
			}
			return nil, connErr(err, "cannot connect to %s", c.baseURL)
		}

		data, rerr := readBody(resp)
		if rerr != nil { return nil, connErr(rerr, "read response") }

		switch {
		case resp.StatusCode == http.StatusOK:
			return data, nil
		case resp.StatusCode == http.StatusUnauthorized:
			c.log.Warn().Str("path", path).Msg("jira authentication failed, check API token")
			return nil, &APIError{Kind: KindAuth, StatusCode: resp.StatusCode, Messages: []string{"authentication failed, check your API token"}}
		case resp.StatusCode == http.StatusForbidden:
			return nil, &APIError{Kind: KindPermission, StatusCode: resp.StatusCode, Messages: []string{"insufficient permissions for this resource"}}
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := 10
			if v := resp.Header.Get("Retry-After"); v != "" {
				if n, err := strconv.Atoi(v); err == nil { retryAfter = n }
			}
			if attempt < c.maxRetries-1 {
				wait := time.Duration(retryAfter*(1<<attempt)) * time.Second
				c.log.Warn().Dur("wait", wait).Int("attempt", attempt+1).Msg("jira rate limit hit, retrying")
				if err := sleepCtx(ctx, wait); err != nil { return nil, connErr(err, "request canceled") }
				continue
			}
			return nil, &APIError{Kind: KindRateLimit, StatusCode: resp.StatusCode, RetryAfter: retryAfter}
		default:
			return nil, &APIError{Kind: KindRemote, StatusCode: resp.StatusCode, Messages: serverMessages(data)}
		}
	}
	return nil, connErr(nil, "max retries exceeded")
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	buf := &bytes.Buffer{}
	_, err := buf.ReadFrom(resp.Body)
	return buf.Bytes(), err
}

// serverMessages extracts Jira's structured errorMessages, falling back to a
// truncated raw body.
func serverMessages(data []byte) []string {
	var body struct {
		ErrorMessages []string `json:"errorMessages"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.ErrorMessages) > 0 { return body.ErrorMessages }
	s := strings.TrimSpace(string(data))
	if len(s) > 200 { s = s[:200] }
	if s == "" { return nil }
	return []string{s}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Myself validates the stored credentials and returns the authenticated user.
func (c *Client) Myself(ctx context.Context) (User, error) {
	data, err := c.request(ctx, http.MethodGet, "/rest/api/3/myself", nil, nil)
	if err != nil { return User{}, err }
	var u User
	if err := json.Unmarshal(data, &u); err != nil { return User{}, connErr(err, "decode myself") }
	return u, nil
}

// Boards lists boards, optionally filtered by project key or board type,
// paging by startAt until the server reports isLast. max <= 0 means all.
func (c *Client) Boards(ctx context.Context, projectKey, boardType string, max int) ([]Board, error) {
	q := url.Values{}
	if projectKey != "" { q.Set("projectKeyOrId", projectKey) }
	if boardType != "" { q.Set("type", boardType) }
	q.Set("maxResults", strconv.Itoa(defaultPageSize))

	var all []Board
	startAt := 0
	for {
		q.Set("startAt", strconv.Itoa(startAt))
		data, err := c.request(ctx, http.MethodGet, "/rest/agile/1.0/board", q, nil)
		if err != nil { return nil, err }
		var page boardList
		if err := json.Unmarshal(data, &page); err != nil { return nil, connErr(err, "decode board list") }
		all = append(all, page.Values...)
		if max > 0 && len(all) >= max { return all[:max], nil }
		if page.IsLast || len(page.Values) == 0 { break }
		if page.MaxResults <= 0 { break }
		startAt += page.MaxResults
	}
	return all, nil
}

// BoardConfig fetches a board's configuration, the source of the story-points
// estimation field id.
func (c *Client) BoardConfig(ctx context.Context, boardID int64) (BoardConfig, error) {
	path := "/rest/agile/1.0/board/" + strconv.FormatInt(boardID, 10) + "/configuration"
	data, err := c.request(ctx, http.MethodGet, path, nil, nil)
	if err != nil { return BoardConfig{}, err }
	var bc BoardConfig
	if err := json.Unmarshal(data, &bc); err != nil { return BoardConfig{}, connErr(err, "decode board config") }
	return bc, nil
}

// Sprints lists a board's sprints. state: "active", "closed", "future", or ""
// for all. max <= 0 means all.
func (c *Client) Sprints(ctx context.Context, boardID int64, state string, max int) ([]Sprint, error) {
	q := url.Values{}
	if state != "" { q.Set("state", state) }
	q.Set("maxResults", strconv.Itoa(defaultPageSize))
	path := "/rest/agile/1.0/board/" + strconv.FormatInt(boardID, 10) + "/sprint"

	var all []Sprint
	startAt := 0
	for {
		q.Set("startAt", strconv.Itoa(startAt))
		data, err := c.request(ctx, http.MethodGet, path, q, nil)
		if err != nil { return nil, err }
		var page sprintList
		if err := json.Unmarshal(data, &page); err != nil { return nil, connErr(err, "decode sprint list") }
		all = append(all, page.Values...)
		if max > 0 && len(all) >= max { return all[:max], nil }
		if page.IsLast || len(page.Values) == 0 { break }
		if page.MaxResults <= 0 { break }
		startAt += page.MaxResults
	}
	return all, nil
}

// SearchIssues runs a JQL search with cursor pagination: pages carry an opaque
// nextPageToken and continue until the server stops returning one or the
// caller's cap is reached. The final page may be partial.
func (c *Client) SearchIssues(ctx context.Context, jql string, fields []string, max int) ([]Issue, error) {
	if jql == "" { return nil, connErr(nil, "empty jql") }
	if max <= 0 { max = 100 }
	if len(fields) == 0 { fields = defaultIssueFields }

	var all []Issue
	token := ""
	for {
		pageSize := max - len(all)
		if pageSize > 100 { pageSize = 100 }
		body := map[string]any{"jql": jql, "fields": fields, "maxResults": pageSize}
		if token != "" { body["nextPageToken"] = token }
		data, err := c.request(ctx, http.MethodPost, "/rest/api/3/search/jql", nil, body)
		if err != nil { return nil, err }
		var page searchResponse
		if err := json.Unmarshal(data, &page); err != nil { return nil, connErr(err, "decode search response") }
		all = append(all, page.Issues...)
		if page.NextPageToken == "" || len(all) >= max { break }
		token = page.NextPageToken
	}
	if len(all) > max { all = all[:max] }
	return all, nil
}

// SprintIssues lists all issues in a sprint via offset pagination against the
// server-reported total.
func (c *Client) SprintIssues(ctx context.Context, boardID, sprintID int64, fields []string, max int) ([]Issue, error) {
	if len(fields) == 0 { fields = defaultIssueFields }
	q := url.Values{}
	q.Set("fields", strings.Join(fields, ","))
	q.Set("maxResults", "100")
	path := "/rest/agile/1.0/board/" + strconv.FormatInt(boardID, 10) + "/sprint/" + strconv.FormatInt(sprintID, 10) + "/issue"

	var all []Issue
	startAt := 0
	for {
		q.Set("startAt", strconv.Itoa(startAt))
		data, err := c.request(ctx, http.MethodGet, path, q, nil)
		if err != nil { return nil, err }
		var page struct {
			Issues     []Issue `json:"issues"`
			Total      int     `json:"total"`
			MaxResults int     `json:"maxResults"`
		}
		if err := json.Unmarshal(data, &page); err != nil { return nil, connErr(err, "decode sprint issues") }
		all = append(all, page.Issues...)
		if max > 0 && len(all) >= max { return all[:max], nil }
		if len(all) >= page.Total || len(page.Issues) == 0 { break }
		if page.MaxResults <= 0 { break }
		startAt += page.MaxResults
	}
	return all, nil
}

// Issue fetches a single issue with the given fields and expand options.
func (c *Client) Issue(ctx context.Context, key string, fields, expand []string) (Issue, error) {
	if key == "" { return Issue{}, connErr(nil, "empty issue key") }
	q := url.Values{}
	if len(fields) > 0 { q.Set("fields", strings.Join(fields, ",")) }
	if len(expand) > 0 { q.Set("expand", strings.Join(expand, ",")) }
	data, err := c.request(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key), q, nil)
	if err != nil { return Issue{}, err }
	var iss Issue
	if err := json.Unmarshal(data, &iss); err != nil { return Issue{}, connErr(err, "decode issue") }
	return iss, nil
}

// Changelog fetches an issue's full changelog via offset pagination.
func (c *Client) Changelog(ctx context.Context, key string, max int) ([]ChangelogEntry, error) {
	if key == "" { return nil, connErr(nil, "empty issue key") }
	pageSize := 100
	if max > 0 && max < pageSize { pageSize = max }
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(pageSize))
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/changelog"

	var all []ChangelogEntry
	startAt := 0
	for {
		q.Set("startAt", strconv.Itoa(startAt))
		data, err := c.request(ctx, http.MethodGet, path, q, nil)
		if err != nil { return nil, err }
		var page changelogPage
		if err := json.Unmarshal(data, &page); err != nil { return nil, connErr(err, "decode changelog") }
		all = append(all, page.Values...)
		if max > 0 && len(all) >= max { return all[:max], nil }
		if page.IsLast || len(all) >= page.Total || len(page.Values) == 0 { break }
		if page.MaxResults <= 0 { break }
		startAt += page.MaxResults
	}
	return all, nil
}

// Worklogs fetches an issue's worklog entries via offset pagination.
func (c *Client) Worklogs(ctx context.Context, key string, max int) ([]WorklogEntry, error) {
	if key == "" { return nil, connErr(nil, "empty issue key") }
	q := url.Values{}
	q.Set("maxResults", "100")
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/worklog"

	var all []WorklogEntry
	startAt := 0
	for {
		q.Set("startAt", strconv.Itoa(startAt))
		data, err := c.request(ctx, http.MethodGet, path, q, nil)
		if err != nil { return nil, err }
		var page worklogPage
		if err := json.Unmarshal(data, &page); err != nil { return nil, connErr(err, "decode worklogs") }
		all = append(all, page.Worklogs...)
		if max > 0 && len(all) >= max { return all[:max], nil }
		if len(all) >= page.Total || len(page.Worklogs) == 0 { break }
		if page.MaxResults <= 0 { break }
		startAt += page.MaxResults
	}
	return all, nil
}

// ProjectMembers lists users assignable to issues in a project.
func (c *Client) ProjectMembers(ctx context.Context, projectKey string) ([]User, error) {
	q := url.Values{}
	q.Set("project", projectKey)
	q.Set("maxResults", "1000")
	data, err := c.request(ctx, http.MethodGet, "/rest/api/3/user/assignable/search", q, nil)
	if err != nil { return nil, err }
	var users []User
	if err := json.Unmarshal(data, &users); err != nil { return nil, connErr(err, "decode users") }
	return users, nil
}

// Fields lists the full field catalog (fixed and custom fields).
func (c *Client) Fields(ctx context.Context) ([]FieldMeta, error) {
	data, err := c.request(ctx, http.MethodGet, "/rest/api/3/field", nil, nil)
	if err != nil { return nil, err }
	var fields []FieldMeta
	if err := json.Unmarshal(data, &fields); err != nil { return nil, connErr(err, "decode field catalog") }
	return fields, nil
}

// DiscoverFieldByName resolves a custom field id by its display name,
// case-insensitively. A missing field is not an error: the instance simply
// does not expose that concept, and the result is "".
func (c *Client) DiscoverFieldByName(ctx context.Context, name string) (string, error) {
	fields, err := c.Fields(ctx)
	if err != nil { return "", err }
	target := strings.ToLower(strings.TrimSpace(name))
	for _, f := range fields {
		if strings.ToLower(f.Name) == target { return f.ID, nil }
	}
	return "", nil
}

// StatusTransitions fetches an issue's changelog and projects status-change
// items into transitions. Entries with unparsable timestamps are skipped.
func (c *Client) StatusTransitions(ctx context.Context, key string) ([]domain.StatusTransition, error) {
	entries, err := c.Changelog(ctx, key, 0)
	if err != nil { return nil, err }
	var out []domain.StatusTransition
	for _, e := range entries {
		at := parseTimeUTC(e.Created)
		if at == nil { continue }
		for _, it := range e.StatusChanges() {
			out = append(out, domain.StatusTransition{
				IssueKey:   key,
				FromStatus: it.FromString,
				ToStatus:   it.ToString,
				Timestamp:  *at,
			})
		}
	}
	return out, nil
}

func parseTimeUTC(s string) *time.Time {
	if s == "" { return nil }
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}

// BuildProjectJQL is the default search filter for a project snapshot:
// assigned issues only, most recently updated first.
func BuildProjectJQL(projectKey string) string {
	return fmt.Sprintf("project = %s AND assignee is not EMPTY ORDER BY updated DESC", projectKey)
}
