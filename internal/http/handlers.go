/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/eslam5464/JiraHub/internal/domain"
	"github.com/eslam5464/JiraHub/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type service interface {
	LoadIssues(ctx context.Context, tenant, projectKey string, boardIDs []int64, forceRefresh bool) ([]jira.Issue, string, error)
	AnalyzeCycleTime(ctx context.Context, tenant string, issueKeys []string) (map[string][]domain.StatusTransition, error)
	ValidateCredentials(ctx context.Context, tenant string) (jira.User, error)
	ListBoards(ctx context.Context, tenant, projectKey string) ([]jira.Board, error)
	ListSprints(ctx context.Context, tenant string, boardID int64, state string) ([]jira.Sprint, error)
	SprintIssues(ctx context.Context, tenant string, boardID, sprintID int64) ([]jira.Issue, error)
	GetIssue(ctx context.Context, tenant, issueKey string) (jira.Issue, error)
	IssueWorklogs(ctx context.Context, tenant, issueKey string) ([]jira.WorklogEntry, error)
	ProjectMembers(ctx context.Context, tenant, projectKey string) ([]jira.User, error)
	InvalidateProjectCache(ctx context.Context, tenant, projectKey string)
	InvalidateAllCache(ctx context.Context, tenant string)
	LastRefresh(ctx context.Context, tenant, projectKey string) *time.Time
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// tenant resolves the caller's tenant id from the X-Tenant header. Session
// handling and access control live outside the core; this surface only needs
// the cache/credential scope.
func tenant(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-Tenant"))
}

func (h *Handlers) requireTenant(c *gin.Context) (string, bool) {
	t := tenant(c)
	if t == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Tenant header"})
		return "", false
	}
	return t, true
}

// fail translates client errors into HTTP responses by error kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	var status int
	body := gin.H{"error": err.Error()}
	switch jira.KindOf(err) {
	case jira.KindAuth:
		status = http.StatusUnauthorized
		body["hint"] = "Jira credentials are unusable - reconnect with a fresh API token"
	case jira.KindPermission:
		status = http.StatusForbidden
	case jira.KindRateLimit:
		status = http.StatusTooManyRequests
	case jira.KindConnection, jira.KindRemote:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	h.log.Error().Err(err).Int("status", status).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, body)
}

func (h *Handlers) loadIssues(c *gin.Context) ([]jira.Issue, string, bool) {
	t, ok := h.requireTenant(c)
	if !ok { return nil, "", false }
	force := c.Query("refresh") == "1" || c.Query("refresh") == "true"
	var boardIDs []int64
	for _, p := range strings.Split(c.Query("boards"), ",") {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		if id, err := strconv.ParseInt(p, 10, 64); err == nil { boardIDs = append(boardIDs, id) }
	}
	issues, spField, err := h.svc.LoadIssues(c.Request.Context(), t, c.Param("key"), boardIDs, force)
	if err != nil {
		h.fail(c, err)
		return nil, "", false
	}
	return issues, spField, true
}

func (h *Handlers) Issues(c *gin.Context) {
	issues, spField, ok := h.loadIssues(c)
	if !ok { return }
	c.JSON(http.StatusOK, gin.H{"issues": issues, "story_points_field": spField, "count": len(issues)})
}

func (h *Handlers) Workload(c *gin.Context) {
	issues, spField, ok := h.loadIssues(c)
	if !ok { return }
	c.JSON(http.StatusOK, gin.H{"workload": metrics.Workload(issues, spField, time.Now())})
}

func (h *Handlers) StatusDistribution(c *gin.Context) {
	issues, _, ok := h.loadIssues(c)
	if !ok { return }
	c.JSON(http.StatusOK, gin.H{"distribution": metrics.StatusDistribution(issues)})
}

func (h *Handlers) Overdue(c *gin.Context) {
	issues, _, ok := h.loadIssues(c)
	if !ok { return }
	overdue := metrics.OverdueTickets(issues, time.Now())
	c.JSON(http.StatusOK, gin.H{"overdue": overdue, "count": len(overdue)})
}

func (h *Handlers) MissingPoints(c *gin.Context) {
	issues, spField, ok := h.loadIssues(c)
	if !ok { return }
	missing := metrics.MissingStoryPoints(issues, spField)
	c.JSON(http.StatusOK, gin.H{"missing": missing, "count": len(missing)})
}

type cycleTimeRequest struct {
	IssueKeys   []string `json:"issue_keys" binding:"required"`
	StartStatus string   `json:"start_status"`
	EndStatus   string   `json:"end_status"`
}

func (h *Handlers) CycleTime(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	var req cycleTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	transitions, err := h.svc.AnalyzeCycleTime(c.Request.Context(), t, req.IssueKeys)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats := make([]domain.CycleTimeStat, 0, len(req.IssueKeys))
	timeInStatus := map[string]domain.TimeInStatusTotal{}
	for _, key := range req.IssueKeys {
		ts := transitions[key]
		stats = append(stats, domain.CycleTimeStat{
			IssueKey: key,
			Hours:    metrics.CycleTime(ts, req.StartStatus, req.EndStatus),
		})
		timeInStatus[key] = metrics.TimeInStatus(ts)
	}
	c.JSON(http.StatusOK, gin.H{
		"transitions":    transitions,
		"cycle_times":    stats,
		"time_in_status": timeInStatus,
	})
}

func (h *Handlers) Boards(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	boards, err := h.svc.ListBoards(c.Request.Context(), t, c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

func (h *Handlers) Sprints(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	boardID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid board id"})
		return
	}
	sprints, err := h.svc.ListSprints(c.Request.Context(), t, boardID, c.Query("state"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sprints": sprints})
}

func (h *Handlers) SprintIssues(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	boardID, err1 := strconv.ParseInt(c.Param("id"), 10, 64)
	sprintID, err2 := strconv.ParseInt(c.Param("sid"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid board or sprint id"})
		return
	}
	issues, err := h.svc.SprintIssues(c.Request.Context(), t, boardID, sprintID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues, "count": len(issues)})
}

func (h *Handlers) Issue(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	issue, err := h.svc.GetIssue(c.Request.Context(), t, c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handlers) Worklogs(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	logs, err := h.svc.IssueWorklogs(c.Request.Context(), t, c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"worklogs": logs})
}

func (h *Handlers) Members(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	users, err := h.svc.ProjectMembers(c.Request.Context(), t, c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": users})
}

func (h *Handlers) ValidateConnection(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	user, err := h.svc.ValidateCredentials(c.Request.Context(), t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": user.AccountID, "display_name": user.DisplayName})
}

func (h *Handlers) InvalidateProject(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	h.svc.InvalidateProjectCache(c.Request.Context(), t, c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) InvalidateAll(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	h.svc.InvalidateAllCache(c.Request.Context(), t)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRefresh(c *gin.Context) {
	t, ok := h.requireTenant(c)
	if !ok { return }
	at := h.svc.LastRefresh(c.Request.Context(), t, c.Param("key"))
	c.JSON(http.StatusOK, domain.LastRefresh{Tenant: t, ProjectKey: c.Param("key"), At: at})
}
