/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service) *gin.Engine {
	if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" { rid = uuid.NewString() }
		c.Header("X-Request-ID", rid)
		c.Next()
		log.Info().Str("rid", rid).Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	api.GET("/connection", h.ValidateConnection)
	api.POST("/cycle-time", h.CycleTime)
	api.DELETE("/cache", h.InvalidateAll)

	api.GET("/projects/:key/issues", h.Issues)
	api.GET("/projects/:key/workload", h.Workload)
	api.GET("/projects/:key/status-distribution", h.StatusDistribution)
	api.GET("/projects/:key/overdue", h.Overdue)
	api.GET("/projects/:key/missing-points", h.MissingPoints)
	api.GET("/projects/:key/boards", h.Boards)
	api.GET("/projects/:key/members", h.Members)
	api.GET("/projects/:key/last-refresh", h.LastRefresh)
	api.DELETE("/projects/:key/cache", h.InvalidateProject)

	api.GET("/boards/:id/sprints", h.Sprints)
	api.GET("/boards/:id/sprints/:sid/issues", h.SprintIssues)
	api.GET("/issues/:key", h.Issue)
	api.GET("/issues/:key/worklogs", h.Worklogs)

	return r
}
