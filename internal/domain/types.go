/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import "time"

// StatusTransition is one status change from an issue changelog. Derived on
// demand, never persisted.
type StatusTransition struct {
	IssueKey   string    `json:"issue_key"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkloadRecord aggregates per-assignee counts over an issue snapshot.
type WorkloadRecord struct {
	Assignee         string  `json:"assignee"`
	TotalTickets     int     `json:"total_tickets"`
	TotalStoryPoints float64 `json:"total_story_points"`
	InProgress       int     `json:"in_progress"`
	Done             int     `json:"done"`
	Overdue          int     `json:"overdue"`
	MissingSP        int     `json:"missing_sp"`
}

// StatusDistribution maps assignee display name to status name to count.
// Only observed combinations are present; absent cells default to 0 at render.
type StatusDistribution map[string]map[string]int

// CycleTimeStat is the hours between an issue entering the start status and
// later entering the end status. Hours is nil when either boundary is missing.
type CycleTimeStat struct {
	IssueKey string   `json:"issue_key"`
	Hours    *float64 `json:"hours"`
}

// TimeInStatusTotal maps status name to total hours the issue spent in it,
// counting only closed intervals between consecutive transitions.
type TimeInStatusTotal map[string]float64

type Credentials struct {
	BaseURL  string
	Email    string
	APIToken string
	ProxyURL string
}

type LastRefresh struct {
	Tenant     string     `json:"tenant"`
	ProjectKey string     `json:"project_key,omitempty"`
	At         *time.Time `json:"at"`
}
