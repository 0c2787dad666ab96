package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/config"
)

type noopService struct{ calls int }

func (n *noopService) LoadIssues(context.Context, string, string, []int64, bool) ([]jira.Issue, string, error) {
	n.calls++
	return nil, "", nil
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	cr := NewCron(config.Config{TZ: "Not/AZone"}, zerolog.Nop(), &noopService{})
	cr.Start()
	// The run goroutine reads the location immediately; give it a beat so a
	// nil location would surface as a panic before Stop.
	time.Sleep(10 * time.Millisecond)
	cr.Stop()
}

func TestNoScheduleWithoutFullRefreshConfig(t *testing.T) {
	cases := []config.Config{
		{TZ: "UTC", RefreshCron: "0 * * * *"},
		{TZ: "UTC", RefreshCron: "0 * * * *", RefreshTenant: "acme"},
		{TZ: "UTC", RefreshTenant: "acme", RefreshProjects: []string{"PRJ"}},
	}
	for _, cfg := range cases {
		cr := NewCron(cfg, zerolog.Nop(), &noopService{})
		if entries := cr.c.Entries(); len(entries) != 0 {
			t.Fatalf("partial refresh config %+v must register no job, got %d", cfg, len(entries))
		}
	}

	cr := NewCron(config.Config{TZ: "UTC", RefreshCron: "0 * * * *", RefreshTenant: "acme", RefreshProjects: []string{"PRJ"}}, zerolog.Nop(), &noopService{})
	if entries := cr.c.Entries(); len(entries) != 1 {
		t.Fatalf("complete refresh config must register one job, got %d", len(entries))
	}
}

func TestRefreshForcesEachConfiguredProject(t *testing.T) {
	svc := &noopService{}
	cr := NewCron(config.Config{TZ: "UTC", RefreshTenant: "acme", RefreshProjects: []string{"PRJ", "OPS"}}, zerolog.Nop(), svc)
	cr.refresh()
	if svc.calls != 2 { t.Fatalf("expected one refresh per project, got %d", svc.calls) }
}
