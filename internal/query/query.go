/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package query implements the read-side views over a committed snapshot.
// Every function here is pure: inputs are the issue list, the query config
// and an explicit clock, so results are reproducible and trivially testable.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
)

type Config struct {
	BlockedKeywords  []string
	BlockedFlagField string
	Weights          config.Weights
}

// Blocker cites why an issue counts as blocked. Link blockers carry the
// linked issue; the flag blocker has no key and relation "flagged".
type Blocker struct {
	Key      string `json:"key"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Relation string `json:"relation"`
}

type BlockedIssue struct {
	Issue    domain.Issue `json:"issue"`
	Blockers []Blocker    `json:"blockers"`
}

// FindBlocked returns every issue with at least one blocker: an inward link
// whose relation contains one of the configured keywords, or the configured
// flag field set on the issue. Each result cites all of its blockers.
func FindBlocked(issues []domain.Issue, cfg Config) []BlockedIssue {
	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" { keywords = append(keywords, kw) }
	}

	var out []BlockedIssue
	for _, iss := range issues {
		var blockers []Blocker
		for _, l := range iss.Links {
			if l.Direction != "inward" { continue }
			rel := strings.ToLower(l.Relation)
			for _, kw := range keywords {
				if strings.Contains(rel, kw) {
					blockers = append(blockers, Blocker{
						Key:      l.LinkedKey,
						Summary:  l.LinkedSummary,
						Status:   l.LinkedStatus,
						Relation: l.Relation,
					})
					break
				}
			}
		}
		if cfg.BlockedFlagField != "" && iss.CustomFlags[cfg.BlockedFlagField] {
			blockers = append(blockers, Blocker{
				Summary:  fmt.Sprintf("Flagged via %s", cfg.BlockedFlagField),
				Relation: "flagged",
			})
		}
		if len(blockers) > 0 {
			out = append(out, BlockedIssue{Issue: iss, Blockers: blockers})
		}
	}
	return out
}

type Breakdown struct {
	Priority       float64 `json:"priority"`
	DueDate        float64 `json:"dueDate"`
	Recency        float64 `json:"recency"`
	BlockedPenalty float64 `json:"blockedPenalty"`
}

type Ranked struct {
	Issue     domain.Issue `json:"issue"`
	Score     float64      `json:"score"`
	Breakdown Breakdown    `json:"breakdown"`
}

// RankNext scores every non-done issue and returns the top results ordered
// by score descending, key ascending on ties. The breakdown shows each
// component so a score is always explainable.
func RankNext(issues []domain.Issue, top int, cfg Config, now time.Time) []Ranked {
	blocked := map[string]bool{}
	for _, b := range FindBlocked(issues, cfg) {
		blocked[b.Issue.Key] = true
	}

	w := cfg.Weights
	var out []Ranked
	for _, iss := range issues {
		if doneCategory(iss.StatusCategory) { continue }

		bd := Breakdown{
			Priority: priorityScore(iss.Priority, w),
			DueDate:  dueScore(iss.DueDate, w, now),
			Recency:  recencyScore(iss.UpdatedAt, w, now),
		}
		if blocked[iss.Key] {
			bd.BlockedPenalty = -w.BlockedPenalty
		}
		out = append(out, Ranked{
			Issue:     iss,
			Score:     bd.Priority + bd.DueDate + bd.Recency + bd.BlockedPenalty,
			Breakdown: bd,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Issue.Key < out[j].Issue.Key
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func doneCategory(cat string) bool {
	switch strings.ToLower(strings.TrimSpace(cat)) {
	case "done", "complete", "closed":
		return true
	}
	return false
}

func priorityScore(priority string, w config.Weights) float64 {
	if s, ok := w.Priority[priority]; ok {
		return s
	}
	return w.PriorityDefault
}

func dueScore(due *time.Time, w config.Weights, now time.Time) float64 {
	if due == nil { return 0 }
	daysLeft := due.Sub(now).Hours() / 24
	switch {
	case daysLeft < 0:
		return w.DueOverdue
	case daysLeft < 1:
		return w.DueToday
	case daysLeft < 3:
		return w.DueSoon
	case daysLeft < 7:
		return w.DueThisWeek
	default:
		return w.DueLater
	}
}

func recencyScore(updated *time.Time, w config.Weights, now time.Time) float64 {
	if updated == nil { return 0 }
	hoursAgo := now.Sub(*updated).Hours()
	switch {
	case hoursAgo < 4:
		return w.RecencyHot
	case hoursAgo < 24:
		return w.RecencyToday
	case hoursAgo < 72:
		return w.RecencyThisWeek
	default:
		return 0
	}
}

type ProjectGroup struct {
	Project string         `json:"project"`
	Issues  []domain.Issue `json:"issues"`
}

// GroupByProject buckets issues by projectKey, groups sorted by key.
// Issues without a project land in "UNKNOWN".
func GroupByProject(issues []domain.Issue) []ProjectGroup {
	buckets := map[string][]domain.Issue{}
	for _, iss := range issues {
		proj := iss.ProjectKey
		if proj == "" { proj = "UNKNOWN" }
		buckets[proj] = append(buckets[proj], iss)
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ProjectGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, ProjectGroup{Project: k, Issues: buckets[k]})
	}
	return out
}

// FilterToday returns issues due today or updated today, with "today"
// evaluated in the given location.
func FilterToday(issues []domain.Issue, now time.Time, loc *time.Location) []domain.Issue {
	if loc == nil { loc = time.UTC }
	ty, tm, td := now.In(loc).Date()

	sameDay := func(y int, m time.Month, d int) bool {
		return y == ty && m == tm && d == td
	}

	out := make([]domain.Issue, 0)
	for _, iss := range issues {
		match := false
		if iss.DueDate != nil {
			// due dates are calendar dates, compare without shifting zones
			match = sameDay(iss.DueDate.Date())
		}
		if !match && iss.UpdatedAt != nil {
			match = sameDay(iss.UpdatedAt.In(loc).Date())
		}
		if match {
			out = append(out, iss)
		}
	}
	return out
}
