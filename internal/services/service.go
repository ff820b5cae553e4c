/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package services wires the sync pipeline together: fetch, normalize,
// resolve relations, commit the snapshot, mirror to Postgres when
// configured. It also serves the read side for the HTTP handlers, always
// from the last committed snapshot.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/MohamadSamaka/jira-TaskForge/internal/normalize"
	"github.com/MohamadSamaka/jira-TaskForge/internal/query"
	"github.com/MohamadSamaka/jira-TaskForge/internal/repo"
	"github.com/MohamadSamaka/jira-TaskForge/internal/resolve"
	"github.com/MohamadSamaka/jira-TaskForge/internal/store"
	"github.com/rs/zerolog"
)

// Tracker is what the sync needs from the fetch client.
type Tracker interface {
	SearchPages(ctx context.Context, jql string, fn func(page []map[string]any) (bool, error)) error
	IssuesByKeys(ctx context.Context, keys []string) (map[string]map[string]any, []string, error)
}

// Mirror is the optional Postgres side. A nil Mirror disables mirroring.
type Mirror interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error
	MirrorIssues(ctx context.Context, issues []domain.Issue, seenAt time.Time) error
	BulkInsertDeltas(ctx context.Context, deltas []domain.HistoryDelta) error
	StartSyncRun(ctx context.Context) (int64, error)
	FinishSyncRun(ctx context.Context, id int64, issues, unresolved int, success bool, errStr string) error
	HistoryByKey(ctx context.Context, key string, limit int) ([]domain.HistoryDelta, error)
}

type Service struct {
	cfg     config.Config
	store   *store.Store
	tracker Tracker
	mirror  Mirror
	loc     *time.Location
	log     zerolog.Logger

	mu      sync.Mutex
	lastRun *domain.SyncRun
}

func New(cfg config.Config, st *store.Store, tracker Tracker, mirror Mirror, log zerolog.Logger) *Service {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Warn().Str("tz", cfg.TZ).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}
	return &Service{cfg: cfg, store: st, tracker: tracker, mirror: mirror, loc: loc, log: log}
}

// RunSync executes one full sync. A second call while one is running fails
// fast with ErrBusy. Any failure after the lease is taken leaves the
// previous snapshot as the queryable state.
func (s *Service) RunSync(ctx context.Context) error {
	lease, err := s.store.AcquireLease()
	if err != nil {
		return err
	}
	defer lease.Release()
	return s.runLocked(ctx, lease)
}

// RunSyncAsync claims the lease synchronously, so the loser of a
// double-submit race gets ErrBusy before any work is queued, then runs the
// sync in the background.
func (s *Service) RunSyncAsync() error {
	lease, err := s.store.AcquireLease()
	if err != nil {
		return err
	}
	go func() {
		defer lease.Release()
		if err := s.runLocked(context.Background(), lease); err != nil {
			s.log.Error().Err(err).Msg("background sync failed")
		}
	}()
	return nil
}

func (s *Service) runLocked(ctx context.Context, lease *store.Lease) error {
	var err error
	if s.mirror != nil {
		ok, err := s.mirror.TryAdvisoryLock(ctx, repo.SyncLockKey)
		if err != nil {
			s.log.Warn().Err(err).Msg("advisory lock unavailable, relying on lease file only")
		} else if !ok {
			return fmt.Errorf("another host holds the sync lock: %w", domain.ErrBusy)
		} else {
			defer func() {
				if err := s.mirror.AdvisoryUnlock(context.WithoutCancel(ctx), repo.SyncLockKey); err != nil {
					s.log.Warn().Err(err).Msg("advisory unlock failed")
				}
			}()
		}
	}

	startedAt := time.Now().UTC()
	run := domain.SyncRun{StartedAt: startedAt, Status: "running"}
	s.setLastRun(run)

	var runID int64
	if s.mirror != nil {
		if runID, err = s.mirror.StartSyncRun(ctx); err != nil {
			s.log.Warn().Err(err).Msg("sync run bookkeeping unavailable")
			runID = 0
		}
	}

	issues, unresolved, syncErr := s.executeSync(ctx, lease, startedAt)

	finishedAt := time.Now().UTC()
	run.FinishedAt = &finishedAt
	run.Issues = issues
	run.Unresolved = unresolved
	if syncErr != nil {
		run.Status = "failed"
		run.Error = syncErr.Error()
	} else {
		run.Status = "ok"
	}
	s.setLastRun(run)

	if s.mirror != nil && runID != 0 {
		errStr := ""
		if syncErr != nil { errStr = syncErr.Error() }
		if err := s.mirror.FinishSyncRun(context.WithoutCancel(ctx), runID, issues, len(unresolved), syncErr == nil, errStr); err != nil {
			s.log.Warn().Err(err).Msg("sync run bookkeeping update failed")
		}
	}
	return syncErr
}

func (s *Service) executeSync(ctx context.Context, lease *store.Lease, startedAt time.Time) (int, []string, error) {
	normOpts := normalize.Options{
		FlagFields: s.cfg.CustomFlagFields,
		FieldIDs:   s.cfg.JiraFieldMap,
	}

	var raws []map[string]any
	maxIssues := s.cfg.JiraMaxIssues
	err := s.tracker.SearchPages(ctx, s.cfg.JiraJQL, func(page []map[string]any) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		raws = append(raws, page...)
		if maxIssues > 0 && len(raws) >= maxIssues {
			s.log.Warn().Int("max", maxIssues).Msg("issue cap reached, truncating search")
			raws = raws[:maxIssues]
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("search: %w", err)
	}
	s.log.Info().Int("issues", len(raws)).Msg("search complete")

	seeds := normalize.All(raws, normOpts, s.log)

	res, err := resolve.Expand(ctx, seeds, s.tracker, resolve.Options{
		LinkDepth: s.cfg.RelationDepth,
		BatchSize: s.cfg.RelationBatch,
		Normalize: normOpts,
	}, s.log)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve relations: %w", err)
	}

	tree := query.BuildTree(res.Issues)
	commit, err := s.store.Commit(lease, startedAt, res.Issues, tree)
	if err != nil {
		return 0, res.Unresolved, err
	}

	if s.mirror != nil {
		if err := s.mirror.MirrorIssues(ctx, res.Issues, startedAt); err != nil {
			s.log.Warn().Err(err).Msg("issue mirror failed")
		}
		if err := s.mirror.BulkInsertDeltas(ctx, commit.Deltas); err != nil {
			s.log.Warn().Err(err).Msg("delta mirror failed")
		}
	}
	return len(res.Issues), res.Unresolved, nil
}

func (s *Service) setLastRun(run domain.SyncRun) {
	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()
}

// LastRun reports the most recent sync attempt in this process. The second
// return is false before the first sync.
func (s *Service) LastRun() (domain.SyncRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return domain.SyncRun{}, false
	}
	return *s.lastRun, true
}

func (s *Service) queryConfig() query.Config {
	return query.Config{
		BlockedKeywords:  s.cfg.BlockedKeywords,
		BlockedFlagField: s.cfg.BlockedFlagField,
		Weights:          s.cfg.Ranking,
	}
}

// Read side. All of these see only committed snapshots.

func (s *Service) Issues() ([]domain.Issue, error) { return s.store.LatestIssues() }

func (s *Service) Issue(key string) (domain.Issue, error) {
	issues, err := s.store.LatestIssues()
	if err != nil {
		return domain.Issue{}, err
	}
	for _, iss := range issues {
		if iss.Key == key {
			return iss, nil
		}
	}
	return domain.Issue{}, fmt.Errorf("issue %s: %w", key, domain.ErrNotFound)
}

func (s *Service) Tree() ([]*query.Node, error) { return s.store.LatestTree() }

func (s *Service) Blocked() ([]query.BlockedIssue, error) {
	issues, err := s.store.LatestIssues()
	if err != nil { return nil, err }
	return query.FindBlocked(issues, s.queryConfig()), nil
}

func (s *Service) Next(top int) ([]query.Ranked, error) {
	issues, err := s.store.LatestIssues()
	if err != nil { return nil, err }
	return query.RankNext(issues, top, s.queryConfig(), time.Now()), nil
}

func (s *Service) Today() ([]domain.Issue, error) {
	issues, err := s.store.LatestIssues()
	if err != nil { return nil, err }
	return query.FilterToday(issues, time.Now(), s.loc), nil
}

func (s *Service) ByProject() ([]query.ProjectGroup, error) {
	issues, err := s.store.LatestIssues()
	if err != nil { return nil, err }
	return query.GroupByProject(issues), nil
}

// History prefers the mirror when one is configured, since it sees deltas
// recorded by other hosts. The local log is the fallback.
func (s *Service) History(key string) ([]domain.HistoryDelta, error) {
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := s.mirror.HistoryByKey(ctx, key, 0)
		if err == nil {
			return out, nil
		}
		s.log.Warn().Err(err).Str("key", key).Msg("mirror history unavailable, using local log")
	}
	return s.store.History(key)
}

func (s *Service) Snapshots(limit int) ([]store.SnapshotInfo, error) {
	return s.store.Snapshots(limit)
}

// LatestTakenAt exposes the commit time of the visible snapshot.
func (s *Service) LatestTakenAt() (time.Time, error) { return s.store.LatestTakenAt() }

// IsBusy reports whether err means a sync is already running.
func IsBusy(err error) bool { return errors.Is(err, domain.ErrBusy) }
