/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"encoding/json"
	"strings"
)

type StatusCategory struct {
	ID   int    `json:"id,omitempty"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

type Status struct {
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

type User struct {
	AccountID    string            `json:"accountId,omitempty"`
	DisplayName  string            `json:"displayName,omitempty"`
	EmailAddress string            `json:"emailAddress,omitempty"`
	Active       bool              `json:"active,omitempty"`
	AvatarURLs   map[string]string `json:"avatarUrls,omitempty"`
}

type IssueType struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask,omitempty"`
}

type Priority struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type TimeTracking struct {
	OriginalEstimate         string `json:"originalEstimate,omitempty"`
	RemainingEstimate        string `json:"remainingEstimate,omitempty"`
	TimeSpent                string `json:"timeSpent,omitempty"`
	OriginalEstimateSeconds  int    `json:"originalEstimateSeconds,omitempty"`
	RemainingEstimateSeconds int    `json:"remainingEstimateSeconds,omitempty"`
	TimeSpentSeconds         int    `json:"timeSpentSeconds,omitempty"`
}

// IssueRef is the minimal issue shape used for parents, subtasks, and link ends.
type IssueRef struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

type IssueLinkType struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Inward  string `json:"inward,omitempty"`
	Outward string `json:"outward,omitempty"`
}

type IssueLink struct {
	ID           string         `json:"id,omitempty"`
	Type         *IssueLinkType `json:"type,omitempty"`
	InwardIssue  *IssueRef      `json:"inwardIssue,omitempty"`
	OutwardIssue *IssueRef      `json:"outwardIssue,omitempty"`
}

// SprintInfo is sprint data as embedded in an issue's custom field (differs
// from the board-level Sprint).
type SprintInfo struct {
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	State     string `json:"state,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Goal      string `json:"goal,omitempty"`
}

// IssueFields holds the typed field set plus Extra: every field key the server
// sent that is not modeled here, kept byte-verbatim. Custom fields live in
// Extra under their opaque ids (customfield_NNNNN) and survive cache
// round-trips untouched.
type IssueFields struct {
	Summary        string        `json:"summary,omitempty"`
	Status         Status        `json:"status"`
	Assignee       *User         `json:"assignee,omitempty"`
	Reporter       *User         `json:"reporter,omitempty"`
	IssueType      IssueType     `json:"issuetype"`
	Priority       *Priority     `json:"priority,omitempty"`
	DueDate        string        `json:"duedate,omitempty"` // "YYYY-MM-DD"
	Labels         []string      `json:"labels,omitempty"`
	Created        string        `json:"created,omitempty"`
	Updated        string        `json:"updated,omitempty"`
	ResolutionDate string        `json:"resolutiondate,omitempty"`
	Parent         *IssueRef     `json:"parent,omitempty"`
	IssueLinks     []IssueLink   `json:"issuelinks,omitempty"`
	Subtasks       []IssueRef    `json:"subtasks,omitempty"`
	TimeTracking   *TimeTracking `json:"timetracking,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownFieldKeys = []string{
	"summary", "status", "assignee", "reporter", "issuetype", "priority",
	"duedate", "labels", "created", "updated", "resolutiondate",
	"parent", "issuelinks", "subtasks", "timetracking",
}

type issueFieldsAlias IssueFields

func (f *IssueFields) UnmarshalJSON(data []byte) error {
	var a issueFieldsAlias
	if err := json.Unmarshal(data, &a); err != nil { return err }
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil { return err }
	for _, k := range knownFieldKeys { delete(raw, k) }
	if len(raw) > 0 { a.Extra = raw }
	*f = IssueFields(a)
	return nil
}

func (f IssueFields) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(issueFieldsAlias(f))
	if err != nil { return nil, err }
	if len(f.Extra) == 0 { return b, nil }
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil { return nil, err }
	for k, v := range f.Extra {
		if _, ok := m[k]; !ok { m[k] = v }
	}
	return json.Marshal(m)
}

type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// StoryPoints reads the dynamic story-points field by its resolved id.
// Returns nil when the id is unknown or the issue has no value.
func (i Issue) StoryPoints(fieldID string) *float64 {
	raw, ok := i.extra(fieldID)
	if !ok { return nil }
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil { return nil }
	return &v
}

// Sprint reads the dynamic sprint field by its resolved id. Some instances
// return a single object, others a list of past and current sprints; the last
// element is the most recent.
func (i Issue) Sprint(fieldID string) *SprintInfo {
	raw, ok := i.extra(fieldID)
	if !ok { return nil }
	var one SprintInfo
	if err := json.Unmarshal(raw, &one); err == nil && (one.ID != 0 || one.Name != "") { return &one }
	var many []SprintInfo
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 { return &many[len(many)-1] }
	return nil
}

// CustomString reads a dynamic field as a display string, unwrapping Jira
// option objects ({"value": ...} or {"name": ...}) and lists of either.
func (i Issue) CustomString(fieldID string) string {
	raw, ok := i.extra(fieldID)
	if !ok { return "" }
	var s string
	if err := json.Unmarshal(raw, &s); err == nil { return s }
	var opt struct {
		Value string `json:"value"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &opt); err == nil {
		if opt.Value != "" { return opt.Value }
		if opt.Name != "" { return opt.Name }
	}
	var opts []struct {
		Value string `json:"value"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &opts); err == nil {
		vals := make([]string, 0, len(opts))
		for _, o := range opts {
			if o.Value != "" { vals = append(vals, o.Value) } else if o.Name != "" { vals = append(vals, o.Name) }
		}
		return strings.Join(vals, ", ")
	}
	return ""
}

func (i Issue) extra(fieldID string) (json.RawMessage, bool) {
	if fieldID == "" || i.Fields.Extra == nil { return nil, false }
	raw, ok := i.Fields.Extra[fieldID]
	if !ok || string(raw) == "null" { return nil, false }
	return raw, true
}

// AssigneeName returns the assignee display name or "Unassigned".
func (i Issue) AssigneeName() string {
	if i.Fields.Assignee != nil && i.Fields.Assignee.DisplayName != "" { return i.Fields.Assignee.DisplayName }
	return "Unassigned"
}

type searchResponse struct {
	Issues        []Issue `json:"issues"`
	Total         int     `json:"total"`
	NextPageToken string  `json:"nextPageToken"`
}

type BoardLocation struct {
	ProjectID   int    `json:"projectId,omitempty"`
	ProjectKey  string `json:"projectKey,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
}

type Board struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"` // "scrum" or "kanban"
	Location *BoardLocation `json:"location,omitempty"`
}

type EstimationField struct {
	FieldID     string `json:"fieldId"`
	DisplayName string `json:"displayName"`
}

type Estimation struct {
	Type  string           `json:"type,omitempty"`
	Field *EstimationField `json:"field,omitempty"`
}

type BoardConfig struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name,omitempty"`
	Estimation *Estimation `json:"estimation,omitempty"`
}

// StoryPointsField returns the custom field id the board estimates with, or "".
func (bc BoardConfig) StoryPointsField() string {
	if bc.Estimation != nil && bc.Estimation.Field != nil { return bc.Estimation.Field.FieldID }
	return ""
}

type boardList struct {
	Values     []Board `json:"values"`
	MaxResults int     `json:"maxResults"`
	StartAt    int     `json:"startAt"`
	Total      int     `json:"total"`
	IsLast     bool    `json:"isLast"`
}

type Sprint struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"` // "active", "closed", "future"
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	CompleteDate  string `json:"completeDate,omitempty"`
	OriginBoardID int64  `json:"originBoardId,omitempty"`
	Goal          string `json:"goal,omitempty"`
}

type sprintList struct {
	Values     []Sprint `json:"values"`
	MaxResults int      `json:"maxResults"`
	StartAt    int      `json:"startAt"`
	IsLast     bool     `json:"isLast"`
}

type ChangeItem struct {
	Field      string `json:"field"`
	FieldType  string `json:"fieldtype,omitempty"`
	FromString string `json:"fromString,omitempty"`
	ToString   string `json:"toString,omitempty"`
}

type ChangelogEntry struct {
	ID      string       `json:"id"`
	Created string       `json:"created"`
	Items   []ChangeItem `json:"items"`
}

// StatusChanges filters the entry's items to status transitions.
func (e ChangelogEntry) StatusChanges() []ChangeItem {
	var out []ChangeItem
	for _, it := range e.Items {
		if it.Field == "status" { out = append(out, it) }
	}
	return out
}

type changelogPage struct {
	Values     []ChangelogEntry `json:"values"`
	MaxResults int              `json:"maxResults"`
	StartAt    int              `json:"startAt"`
	Total      int              `json:"total"`
	IsLast     bool             `json:"isLast"`
}

type WorklogEntry struct {
	ID               string `json:"id,omitempty"`
	Author           *User  `json:"author,omitempty"`
	TimeSpent        string `json:"timeSpent,omitempty"`
	TimeSpentSeconds int    `json:"timeSpentSeconds,omitempty"`
	Started          string `json:"started,omitempty"`
	Created          string `json:"created,omitempty"`
	Updated          string `json:"updated,omitempty"`
}

type worklogPage struct {
	Worklogs   []WorklogEntry `json:"worklogs"`
	MaxResults int            `json:"maxResults"`
	StartAt    int            `json:"startAt"`
	Total      int            `json:"total"`
}

type FieldMeta struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Custom      bool     `json:"custom,omitempty"`
	ClauseNames []string `json:"clauseNames,omitempty"`
}
