/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc Service) *gin.Engine {
	if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	api.GET("/issues", h.Issues)
	api.GET("/issues/:key", h.Issue)
	api.GET("/tree", h.Tree)
	api.GET("/query/blocked", h.Blocked)
	api.GET("/query/next", h.Next)
	api.GET("/query/today", h.Today)
	api.GET("/query/by-project", h.ByProject)
	api.GET("/history/:key", h.History)
	api.GET("/snapshots", h.Snapshots)

	r.POST("/admin/sync", h.SyncNow)
	r.GET("/admin/last-sync", h.LastSync)

	return r
}
