/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/cache"
	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/eslam5464/JiraHub/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type JiraClient interface {
	Myself(ctx context.Context) (jira.User, error)
	Boards(ctx context.Context, projectKey, boardType string, max int) ([]jira.Board, error)
	BoardConfig(ctx context.Context, boardID int64) (jira.BoardConfig, error)
	Sprints(ctx context.Context, boardID int64, state string, max int) ([]jira.Sprint, error)
	SearchIssues(ctx context.Context, jql string, fields []string, max int) ([]jira.Issue, error)
	SprintIssues(ctx context.Context, boardID, sprintID int64, fields []string, max int) ([]jira.Issue, error)
	Issue(ctx context.Context, key string, fields, expand []string) (jira.Issue, error)
	Fields(ctx context.Context) ([]jira.FieldMeta, error)
	StatusTransitions(ctx context.Context, key string) ([]domain.StatusTransition, error)
	Worklogs(ctx context.Context, key string, max int) ([]jira.WorklogEntry, error)
	ProjectMembers(ctx context.Context, projectKey string) ([]jira.User, error)
	Close()
}

// CredentialProvider resolves a tenant to its Jira credentials. Backed by
// encrypted storage outside the core.
type CredentialProvider interface {
	Credentials(ctx context.Context, tenant string) (domain.Credentials, error)
}

// ClientFactory builds a client for one tenant's credentials. The service
// closes the client when the call scope ends.
type ClientFactory func(creds domain.Credentials) JiraClient

type Service struct {
	cfg       config.Config
	log       zerolog.Logger
	cache     *cache.Snapshots
	creds     CredentialProvider
	newClient ClientFactory
}

func New(cfg config.Config, log zerolog.Logger, snapshots *cache.Snapshots, creds CredentialProvider, factory ClientFactory) *Service {
	return &Service{cfg: cfg, log: log, cache: snapshots, creds: creds, newClient: factory}
}

func (s *Service) client(ctx context.Context, tenant string) (JiraClient, error) {
	creds, err := s.creds.Credentials(ctx, tenant)
	if err != nil { return nil, fmt.Errorf("resolve credentials for %s: %w", tenant, err) }
	return s.newClient(creds), nil
}

// fieldRef is the cached shape of a discovered field id.
type fieldRef struct {
	Field string `json:"field"`
}

// LoadIssues returns the project's issue snapshot and the resolved
// story-points field id. Cache hit returns the snapshot as-is; miss or forced
// refresh drives field discovery and a full paginated search, then writes the
// snapshot back. The snapshot is written only after the fetch completes, so an
// abandoned call never leaves a partial snapshot behind.
func (s *Service) LoadIssues(ctx context.Context, tenant, projectKey string, boardIDs []int64, forceRefresh bool) ([]jira.Issue, string, error) {
	if !forceRefresh {
		var issues []jira.Issue
		if s.cache.Get(ctx, tenant, cache.NamespaceIssues, projectKey, &issues) {
			var ref fieldRef
			s.cache.Get(ctx, tenant, cache.NamespaceSPField, projectKey, &ref)
			s.log.Debug().Str("project", projectKey).Int("issues", len(issues)).Msg("issue snapshot cache hit")
			return issues, ref.Field, nil
		}
	}

	client, err := s.client(ctx, tenant)
	if err != nil { return nil, "", err }
	defer client.Close()

	spField := s.discoverStoryPoints(ctx, client, tenant, projectKey, boardIDs, forceRefresh)
	sprintField, teamField := s.discoverNamedFields(ctx, client, tenant, projectKey, forceRefresh)

	fields := append([]string(nil), defaultSearchFields...)
	for _, f := range []string{spField, sprintField, teamField} {
		if f != "" { fields = append(fields, f) }
	}

	issues, err := client.SearchIssues(ctx, jira.BuildProjectJQL(projectKey), fields, s.cfg.SearchMaxIssues)
	if err != nil { return nil, "", err }

	s.cache.Set(ctx, tenant, cache.NamespaceIssues, projectKey, issues)
	s.cache.SetLastRefresh(ctx, tenant, projectKey, time.Now().UTC())
	s.log.Info().Str("project", projectKey).Int("issues", len(issues)).Bool("forced", forceRefresh).Msg("issue snapshot refreshed")
	return issues, spField, nil
}

var defaultSearchFields = []string{
	"summary", "status", "assignee", "reporter", "issuetype", "priority",
	"duedate", "labels", "created", "updated", "resolutiondate",
	"parent", "issuelinks", "subtasks", "timetracking",
}

// discoverStoryPoints resolves the story-points field from the first board
// configuration exposing an estimation field, falling back to a field-catalog
// match on the configured display name. Boards that fail are skipped; absence
// means the project simply has no story points configured.
func (s *Service) discoverStoryPoints(ctx context.Context, client JiraClient, tenant, projectKey string, boardIDs []int64, force bool) string {
	if !force {
		var ref fieldRef
		if s.cache.Get(ctx, tenant, cache.NamespaceSPField, projectKey, &ref) && ref.Field != "" { return ref.Field }
	}
	for _, bid := range boardIDs {
		cfg, err := client.BoardConfig(ctx, bid)
		if err != nil {
			s.log.Warn().Err(err).Int64("board", bid).Msg("board config fetch failed")
			continue
		}
		if f := cfg.StoryPointsField(); f != "" {
			s.cache.Set(ctx, tenant, cache.NamespaceSPField, projectKey, fieldRef{Field: f})
			return f
		}
	}
	if s.cfg.StoryPointsFieldName != "" {
		if f := s.fieldByName(ctx, client, s.cfg.StoryPointsFieldName); f != "" {
			s.cache.Set(ctx, tenant, cache.NamespaceSPField, projectKey, fieldRef{Field: f})
			return f
		}
	}
	return ""
}

func (s *Service) fieldByName(ctx context.Context, client JiraClient, name string) string {
	catalog, err := client.Fields(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("field catalog fetch failed")
		return ""
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, f := range catalog {
		if strings.ToLower(strings.TrimSpace(f.Name)) == want { return f.ID }
	}
	return ""
}

// discoverNamedFields resolves the Sprint and Team custom field ids from the
// field catalog. The catalog lists every field and is expensive, so it is
// fetched at most once per call and the matches are cached per project.
func (s *Service) discoverNamedFields(ctx context.Context, client JiraClient, tenant, projectKey string, force bool) (sprintField, teamField string) {
	wanted := map[string]*string{}
	if !force {
		var ref fieldRef
		if s.cache.Get(ctx, tenant, cache.NamespaceSprintField, projectKey, &ref) && ref.Field != "" {
			sprintField = ref.Field
		}
		ref = fieldRef{}
		if s.cache.Get(ctx, tenant, cache.NamespaceTeamField, projectKey, &ref) && ref.Field != "" {
			teamField = ref.Field
		}
	}
	if sprintField == "" { wanted[strings.ToLower(s.cfg.SprintFieldName)] = &sprintField }
	if teamField == "" { wanted[strings.ToLower(s.cfg.TeamFieldName)] = &teamField }
	if len(wanted) == 0 { return sprintField, teamField }

	catalog, err := client.Fields(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("field catalog fetch failed")
		return sprintField, teamField
	}
	for _, f := range catalog {
		if dst, ok := wanted[strings.ToLower(strings.TrimSpace(f.Name))]; ok && *dst == "" { *dst = f.ID }
	}
	if sprintField != "" { s.cache.Set(ctx, tenant, cache.NamespaceSprintField, projectKey, fieldRef{Field: sprintField}) }
	if teamField != "" { s.cache.Set(ctx, tenant, cache.NamespaceTeamField, projectKey, fieldRef{Field: teamField}) }
	return sprintField, teamField
}

// AnalyzeCycleTime fetches status transitions for each issue key. Changelog
// data is never cached: each call goes to the remote API, fanned out over a
// bounded worker group.
func (s *Service) AnalyzeCycleTime(ctx context.Context, tenant string, issueKeys []string) (map[string][]domain.StatusTransition, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return nil, err }
	defer client.Close()

	workers := s.cfg.WorkersChangelog
	if workers <= 0 { workers = 4 }

	var mu sync.Mutex
	out := make(map[string][]domain.StatusTransition, len(issueKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, key := range issueKeys {
		key := key
		g.Go(func() error {
			transitions, err := client.StatusTransitions(gctx, key)
			if err != nil { return err }
			mu.Lock()
			out[key] = transitions
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil { return nil, err }
	return out, nil
}

// ValidateCredentials checks the tenant's stored credentials against the
// "who am I" endpoint.
func (s *Service) ValidateCredentials(ctx context.Context, tenant string) (jira.User, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return jira.User{}, err }
	defer client.Close()
	return client.Myself(ctx)
}

// ListBoards lists the tenant's boards for a project.
func (s *Service) ListBoards(ctx context.Context, tenant, projectKey string) ([]jira.Board, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return nil, err }
	defer client.Close()
	return client.Boards(ctx, projectKey, "", 0)
}

// ListSprints lists a board's sprints, optionally filtered by state.
func (s *Service) ListSprints(ctx context.Context, tenant string, boardID int64, state string) ([]jira.Sprint, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return nil, err }
	defer client.Close()
	return client.Sprints(ctx, boardID, state, 0)
}

// SprintIssues lists a sprint's issues with the default field set, uncached.
func (s *Service) SprintIssues(ctx context.Context, tenant string, boardID, sprintID int64) ([]jira.Issue, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return nil, err }
	defer client.Close()
	return client.SprintIssues(ctx, boardID, sprintID, nil, 0)
}

// GetIssue fetches one issue fresh from the remote API.
func (s *Service) GetIssue(ctx context.Context, tenant, issueKey string) (jira.Issue, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return jira.Issue{}, err }
	defer client.Close()
	return client.Issue(ctx, issueKey, nil, nil)
}

// IssueWorklogs fetches an issue's worklog entries, uncached.
func (s *Service) IssueWorklogs(ctx context.Context, tenant, issueKey string) ([]jira.WorklogEntry, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return nil, err }
	defer client.Close()
	return client.Worklogs(ctx, issueKey, 0)
}

// ProjectMembers lists users assignable to a project's issues.
func (s *Service) ProjectMembers(ctx context.Context, tenant, projectKey string) ([]jira.User, error) {
	client, err := s.client(ctx, tenant)
	if err != nil { return nil, err }
	defer client.Close()
	return client.ProjectMembers(ctx, projectKey)
}

var projectNamespaces = []string{
	cache.NamespaceIssues,
	cache.NamespaceSPField,
	cache.NamespaceSprintField,
	cache.NamespaceTeamField,
	cache.NamespaceLastRefresh,
}

// InvalidateProjectCache drops every cached entry for one project.
func (s *Service) InvalidateProjectCache(ctx context.Context, tenant, projectKey string) {
	for _, ns := range projectNamespaces {
		s.cache.Invalidate(ctx, tenant, ns, projectKey)
	}
}

// InvalidateAllCache drops every cached entry for the tenant.
func (s *Service) InvalidateAllCache(ctx context.Context, tenant string) {
	s.cache.InvalidateAll(ctx, tenant)
}

// LastRefresh reports when the project snapshot was last fetched, if ever.
func (s *Service) LastRefresh(ctx context.Context, tenant, projectKey string) *time.Time {
	return s.cache.LastRefresh(ctx, tenant, projectKey)
}
