/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	TZ       string
	HTTPAddr string
	LogLevel string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	JiraBaseURL  string
	JiraEmail    string
	JiraAPIToken string
	JiraProxyURL string

	// Display names of the custom fields the pipeline resolves per project.
	StoryPointsFieldName string
	SprintFieldName      string
	TeamFieldName        string

	SearchMaxIssues  int
	HTTPTimeout      time.Duration
	MaxRetries       int
	WorkersChangelog int

	RefreshCron     string
	RefreshTenant   string
	RefreshProjects []string
	RefreshBoards   []int64
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" { return def }
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" { return def }
	i, err := strconv.Atoi(v)
	if err != nil { return def }
	return i
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" { return def }
	d, err := time.ParseDuration(v)
	if err != nil { return def }
	return d
}

func parseInt64s(csv string) []int64 {
	if csv == "" { return nil }
	parts := strings.Split(csv, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		n, err := strconv.ParseInt(p, 10, 64)
		if err == nil { out = append(out, n) }
	}
	return out
}

func parseStrings(csv string) []string {
	if csv == "" { return nil }
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		out = append(out, p)
	}
	return out
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "UTC"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisUsername: getenv("REDIS_USER", ""),
		RedisPassword: getenv("REDIS_PASS", ""),
		RedisDB:       atoi("REDIS_DB", 0),

		JiraBaseURL:  getenv("JIRA_BASE_URL", ""),
		JiraEmail:    getenv("JIRA_EMAIL", ""),
		JiraAPIToken: getenv("JIRA_API_TOKEN", ""),
		JiraProxyURL: getenv("JIRA_PROXY_URL", ""),

		StoryPointsFieldName: getenv("JIRA_STORY_POINTS_FIELD", "Story Points"),
		SprintFieldName:      getenv("JIRA_SPRINT_FIELD", "Sprint"),
		TeamFieldName:        getenv("JIRA_TEAM_FIELD", "Team"),

		SearchMaxIssues:  atoi("JIRA_SEARCH_MAX", 500),
		HTTPTimeout:      dur("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:       atoi("JIRA_MAX_RETRIES", 3),
		WorkersChangelog: atoi("WORKERS_CHANGELOG", 4),

		RefreshCron:     getenv("REFRESH_CRON", ""),
		RefreshTenant:   getenv("REFRESH_TENANT", ""),
		RefreshProjects: parseStrings(getenv("REFRESH_PROJECTS", "")),
		RefreshBoards:   parseInt64s(getenv("REFRESH_BOARDS", "")),
	}

	// set global timezone if available
	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	}
	return cfg
}
