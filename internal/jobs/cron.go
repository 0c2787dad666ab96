package jobs

import (
	"context"
	"time"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type service interface {
	LoadIssues(ctx context.Context, tenant, projectKey string, boardIDs []int64, forceRefresh bool) ([]jira.Issue, string, error)
}

// Cron periodically forces a snapshot refresh for the configured tenant and
// projects. Still pull-based: it is the same fetch path an explicit refresh
// request takes, just on a schedule.
type Cron struct {
	cfg config.Config
	log zerolog.Logger
	svc service
	c   *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service) *Cron {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Warn().Err(err).Str("tz", cfg.TZ).Msg("unknown timezone, scheduling in UTC")
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, c: c}
	if cfg.RefreshCron != "" && cfg.RefreshTenant != "" && len(cfg.RefreshProjects) > 0 {
		_, _ = c.AddFunc(cfg.RefreshCron, cr.refresh)
	}
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	for _, project := range cr.cfg.RefreshProjects {
		issues, _, err := cr.svc.LoadIssues(ctx, cr.cfg.RefreshTenant, project, cr.cfg.RefreshBoards, true)
		if err != nil {
			cr.log.Error().Err(err).Str("project", project).Msg("cron: snapshot refresh failed")
			continue
		}
		cr.log.Info().Str("project", project).Int("issues", len(issues)).Msg("cron: snapshot refreshed")
	}
}
