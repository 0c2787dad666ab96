/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package metrics derives team-performance statistics from issue snapshots and
// status transitions. Every function is pure and stateless: malformed dates or
// timestamps are skipped, never raised, so a bad record cannot abort a batch.
package metrics

import (
	"sort"
	"time"

	"github.com/eslam5464/JiraHub/internal/adapters/jira"
	"github.com/eslam5464/JiraHub/internal/domain"
)

const (
	DefaultStartStatus = "In Progress"
	DefaultEndStatus   = "Done"
)

var doneStatuses = map[string]struct{}{"Done": {}, "Closed": {}, "Resolved": {}}

var inProgressStatuses = map[string]struct{}{"In Progress": {}, "In Review": {}, "In Development": {}}

func isDone(status string) bool {
	_, ok := doneStatuses[status]
	return ok
}

func isInProgress(status string) bool {
	_, ok := inProgressStatuses[status]
	return ok
}

const dueDateLayout = "2006-01-02"

// parseDue returns the issue's due date, or nil when absent or unparsable.
// Unparsable due dates drop the issue from overdue logic entirely.
func parseDue(issue jira.Issue) *time.Time {
	if issue.Fields.DueDate == "" { return nil }
	d, err := time.Parse(dueDateLayout, issue.Fields.DueDate)
	if err != nil { return nil }
	return &d
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isOverdue(issue jira.Issue, today time.Time) bool {
	if isDone(issue.Fields.Status.Name) { return false }
	due := parseDue(issue)
	return due != nil && due.Before(today)
}

// OverdueTickets filters issues past their due date and not done, sorted
// ascending by due date. An issue due exactly today is not overdue.
func OverdueTickets(issues []jira.Issue, now time.Time) []jira.Issue {
	today := dateOf(now)
	var overdue []jira.Issue
	for _, issue := range issues {
		if isOverdue(issue, today) { overdue = append(overdue, issue) }
	}
	sort.SliceStable(overdue, func(a, b int) bool {
		return parseDue(overdue[a]).Before(*parseDue(overdue[b]))
	})
	return overdue
}

// MissingStoryPoints filters issues without a story-points value. When no
// story-points field was discovered for the project, every issue qualifies.
func MissingStoryPoints(issues []jira.Issue, spFieldID string) []jira.Issue {
	var missing []jira.Issue
	for _, issue := range issues {
		if issue.StoryPoints(spFieldID) == nil { missing = append(missing, issue) }
	}
	return missing
}

// Workload aggregates per-assignee counts: tickets, summed story points
// (missing counts as 0 for the sum, and toward MissingSP), done, in-progress,
// and overdue. Records are sorted by assignee name.
func Workload(issues []jira.Issue, spFieldID string, now time.Time) []domain.WorkloadRecord {
	today := dateOf(now)
	byAssignee := map[string]*domain.WorkloadRecord{}
	for _, issue := range issues {
		name := issue.AssigneeName()
		rec, ok := byAssignee[name]
		if !ok {
			rec = &domain.WorkloadRecord{Assignee: name}
			byAssignee[name] = rec
		}
		rec.TotalTickets++
		if sp := issue.StoryPoints(spFieldID); sp != nil {
			rec.TotalStoryPoints += *sp
		} else {
			rec.MissingSP++
		}
		status := issue.Fields.Status.Name
		if isDone(status) {
			rec.Done++
		} else if isInProgress(status) {
			rec.InProgress++
		}
		if isOverdue(issue, today) { rec.Overdue++ }
	}
	out := make([]domain.WorkloadRecord, 0, len(byAssignee))
	for _, rec := range byAssignee { out = append(out, *rec) }
	sort.Slice(out, func(a, b int) bool { return out[a].Assignee < out[b].Assignee })
	return out
}

// StatusDistribution counts issues per assignee per status name. Only observed
// combinations appear; renderers default absent cells to 0.
func StatusDistribution(issues []jira.Issue) domain.StatusDistribution {
	dist := domain.StatusDistribution{}
	for _, issue := range issues {
		name := issue.AssigneeName()
		if dist[name] == nil { dist[name] = map[string]int{} }
		dist[name][issue.Fields.Status.Name]++
	}
	return dist
}

func sortedByTime(transitions []domain.StatusTransition) []domain.StatusTransition {
	out := make([]domain.StatusTransition, len(transitions))
	copy(out, transitions)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.Before(out[b].Timestamp) })
	return out
}

// CycleTime returns the hours between the first transition into startStatus
// and the first subsequent transition into endStatus, or nil when either
// boundary is missing. Repeated cycles (reopened issues) are not modeled:
// only the first start/end pair counts.
func CycleTime(transitions []domain.StatusTransition, startStatus, endStatus string) *float64 {
	if startStatus == "" { startStatus = DefaultStartStatus }
	if endStatus == "" { endStatus = DefaultEndStatus }
	var startedAt, endedAt *time.Time
	for _, t := range sortedByTime(transitions) {
		if t.ToStatus == startStatus && startedAt == nil {
			ts := t.Timestamp
			startedAt = &ts
		}
		if t.ToStatus == endStatus && startedAt != nil && endedAt == nil {
			ts := t.Timestamp
			endedAt = &ts
		}
	}
	if startedAt == nil || endedAt == nil { return nil }
	hours := endedAt.Sub(*startedAt).Hours()
	return &hours
}

// TimeInStatus attributes each closed interval between consecutive transitions
// to the status the issue occupied during it. The open interval after the
// final transition (current status up to "now") is not counted.
func TimeInStatus(transitions []domain.StatusTransition) domain.TimeInStatusTotal {
	sorted := sortedByTime(transitions)
	totals := domain.TimeInStatusTotal{}
	for i := 0; i+1 < len(sorted); i++ {
		cur, next := sorted[i], sorted[i+1]
		hours := next.Timestamp.Sub(cur.Timestamp).Hours()
		totals[cur.ToStatus] += hours
	}
	return totals
}
