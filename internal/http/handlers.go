/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/MohamadSamaka/jira-TaskForge/internal/query"
	"github.com/MohamadSamaka/jira-TaskForge/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Service is the read/sync surface the handlers need.
type Service interface {
	RunSyncAsync() error
	LastRun() (domain.SyncRun, bool)
	LatestTakenAt() (time.Time, error)

	Issues() ([]domain.Issue, error)
	Issue(key string) (domain.Issue, error)
	Tree() ([]*query.Node, error)
	Blocked() ([]query.BlockedIssue, error)
	Next(top int) ([]query.Ranked, error)
	Today() ([]domain.Issue, error)
	ByProject() ([]query.ProjectGroup, error)
	History(key string) ([]domain.HistoryDelta, error)
	Snapshots(limit int) ([]store.SnapshotInfo, error)
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc Service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc Service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBusy):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handlers) Issues(c *gin.Context) {
	issues, err := h.svc.Issues()
	if err != nil { fail(c, err); return }
	takenAt, _ := h.svc.LatestTakenAt()
	c.JSON(http.StatusOK, gin.H{"issues": issues, "total": len(issues), "takenAt": takenAt})
}

func (h *Handlers) Issue(c *gin.Context) {
	iss, err := h.svc.Issue(c.Param("key"))
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, iss)
}

func (h *Handlers) Tree(c *gin.Context) {
	tree, err := h.svc.Tree()
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"tree": tree, "roots": len(tree)})
}

func (h *Handlers) Blocked(c *gin.Context) {
	blocked, err := h.svc.Blocked()
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"blocked": blocked, "total": len(blocked)})
}

func (h *Handlers) Next(c *gin.Context) {
	top := 10
	if v := c.Query("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top must be a positive integer"})
			return
		}
		top = n
	}
	ranked, err := h.svc.Next(top)
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"next": ranked, "total": len(ranked)})
}

func (h *Handlers) Today(c *gin.Context) {
	issues, err := h.svc.Today()
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"today": issues, "total": len(issues)})
}

func (h *Handlers) ByProject(c *gin.Context) {
	groups, err := h.svc.ByProject()
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"projects": groups, "total": len(groups)})
}

func (h *Handlers) History(c *gin.Context) {
	deltas, err := h.svc.History(c.Param("key"))
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"history": deltas, "total": len(deltas)})
}

func (h *Handlers) Snapshots(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 { limit = n }
	}
	snaps, err := h.svc.Snapshots(limit)
	if err != nil { fail(c, err); return }
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "total": len(snaps)})
}

// SyncNow triggers a sync detached from the request context. The lease is
// claimed before answering, so the loser of a double submit gets 409 rather
// than a second 202.
func (h *Handlers) SyncNow(c *gin.Context) {
	if err := h.svc.RunSyncAsync(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) LastSync(c *gin.Context) {
	run, ok := h.svc.LastRun()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "never"})
		return
	}
	c.JSON(http.StatusOK, run)
}
