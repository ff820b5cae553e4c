/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package store persists sync results on disk:
//
//	<dir>/snapshots/<stamp>_issues.json   immutable per-sync archives
//	<dir>/latest/issues.json              flat latest, replaced atomically
//	<dir>/latest/tree.json                hierarchy latest, replaced atomically
//	<dir>/history.jsonl                   append-only field-change log
//	<dir>/sync.lock                       create-exclusive sync lease
//
// Readers only ever see fully committed files: the latest pointers are
// swapped in with an atomic rename, and a failed commit leaves the previous
// latest untouched.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/MohamadSamaka/jira-TaskForge/internal/query"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

const (
	snapshotsDir = "snapshots"
	latestDir    = "latest"
	latestIssues = "issues.json"
	latestTree   = "tree.json"
	historyFile  = "history.jsonl"
	leaseFile    = "sync.lock"
)

type Store struct {
	dir string
	log zerolog.Logger
}

func New(dir string, log zerolog.Logger) (*Store, error) {
	for _, sub := range []string{snapshotsDir, latestDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w: %v", sub, domain.ErrStorage, err)
		}
	}
	return &Store{dir: dir, log: log}, nil
}

// Lease is the exclusive right to run one sync. It is backed by a
// create-exclusive lock file, so it also excludes other processes on the
// same data dir.
type Lease struct {
	path     string
	released bool
}

func (s *Store) AcquireLease() (*Lease, error) {
	path := filepath.Join(s.dir, leaseFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lease %s held: %w", path, domain.ErrBusy)
		}
		return nil, fmt.Errorf("acquire lease: %w: %v", domain.ErrStorage, err)
	}
	fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	f.Close()
	return &Lease{path: path}, nil
}

func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	os.Remove(l.path)
}

type CommitResult struct {
	SnapshotPath string
	Deltas       []domain.HistoryDelta
}

// Commit persists one sync result. The caller must hold the lease. Order
// matters: the archive is written first, then the latest pointers are
// swapped, and only then are the deltas appended. A failed commit leaves the
// previous latest as the visible state and records no deltas for the
// snapshot that never became latest.
func (s *Store) Commit(lease *Lease, takenAt time.Time, issues []domain.Issue, tree []*query.Node) (CommitResult, error) {
	if lease == nil || lease.released {
		return CommitResult{}, fmt.Errorf("commit without held lease: %w", domain.ErrBusy)
	}

	snap := domain.Snapshot{TakenAt: takenAt.UTC(), Issues: issues}
	snapJSON, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitResult{}, fmt.Errorf("encode snapshot: %w: %v", domain.ErrStorage, err)
	}
	treeJSON, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return CommitResult{}, fmt.Errorf("encode tree: %w: %v", domain.ErrStorage, err)
	}

	stamp := takenAt.UTC().Format("2006-01-02_150405")
	snapPath := filepath.Join(s.dir, snapshotsDir, stamp+"_issues.json")
	if err := atomic.WriteFile(snapPath, bytes.NewReader(snapJSON)); err != nil {
		return CommitResult{}, fmt.Errorf("write snapshot archive: %w: %v", domain.ErrStorage, err)
	}

	prev, err := s.LatestIssues()
	if err != nil {
		return CommitResult{}, err
	}
	deltas := Diff(prev, issues, takenAt.UTC())

	if err := atomic.WriteFile(filepath.Join(s.dir, latestDir, latestIssues), bytes.NewReader(snapJSON)); err != nil {
		return CommitResult{}, fmt.Errorf("replace latest issues: %w: %v", domain.ErrStorage, err)
	}
	if err := atomic.WriteFile(filepath.Join(s.dir, latestDir, latestTree), bytes.NewReader(treeJSON)); err != nil {
		return CommitResult{}, fmt.Errorf("replace latest tree: %w: %v", domain.ErrStorage, err)
	}

	if err := s.appendHistory(deltas); err != nil {
		return CommitResult{}, err
	}

	s.log.Info().Str("snapshot", snapPath).Int("issues", len(issues)).Int("deltas", len(deltas)).Msg("snapshot committed")
	return CommitResult{SnapshotPath: snapPath, Deltas: deltas}, nil
}

func (s *Store) appendHistory(deltas []domain.HistoryDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, historyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w: %v", domain.ErrStorage, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, d := range deltas {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("append history: %w: %v", domain.ErrStorage, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush history: %w: %v", domain.ErrStorage, err)
	}
	return nil
}

// LatestIssues returns the committed latest issue list. A data dir that has
// never seen a sync yields an empty list, not an error.
func (s *Store) LatestIssues() ([]domain.Issue, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestDir, latestIssues))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Issue{}, nil
		}
		return nil, fmt.Errorf("read latest issues: %w: %v", domain.ErrStorage, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode latest issues: %w: %v", domain.ErrStorage, err)
	}
	return snap.Issues, nil
}

// LatestTakenAt reports when the latest snapshot was committed. Zero time
// when no snapshot exists.
func (s *Store) LatestTakenAt() (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestDir, latestIssues))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read latest issues: %w: %v", domain.ErrStorage, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return time.Time{}, fmt.Errorf("decode latest issues: %w: %v", domain.ErrStorage, err)
	}
	return snap.TakenAt, nil
}

func (s *Store) LatestTree() ([]*query.Node, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestDir, latestTree))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*query.Node{}, nil
		}
		return nil, fmt.Errorf("read latest tree: %w: %v", domain.ErrStorage, err)
	}
	var tree []*query.Node
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode latest tree: %w: %v", domain.ErrStorage, err)
	}
	return tree, nil
}

// History returns the recorded deltas for one issue key, oldest first.
func (s *Store) History(key string) ([]domain.HistoryDelta, error) {
	f, err := os.Open(filepath.Join(s.dir, historyFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.HistoryDelta{}, nil
		}
		return nil, fmt.Errorf("open history log: %w: %v", domain.ErrStorage, err)
	}
	defer f.Close()

	out := []domain.HistoryDelta{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var d domain.HistoryDelta
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed history line")
			continue
		}
		if key == "" || d.IssueKey == key {
			out = append(out, d)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan history log: %w: %v", domain.ErrStorage, err)
	}
	return out, nil
}

type SnapshotInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Snapshots lists archived snapshots, newest first.
func (s *Store) Snapshots(limit int) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, snapshotsDir))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w: %v", domain.ErrStorage, err)
	}
	out := []SnapshotInfo{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Diff computes field-level deltas between two issue sets. Issues present
// on only one side produce a synthetic delta on the "issue" field. Every
// normalized field is tracked except the created/updated timestamps, which
// would turn every upstream touch into a delta of its own.
func Diff(prev, next []domain.Issue, at time.Time) []domain.HistoryDelta {
	prevByKey := map[string]domain.Issue{}
	for _, iss := range prev {
		prevByKey[iss.Key] = iss
	}

	var deltas []domain.HistoryDelta
	seen := map[string]bool{}
	for _, iss := range next {
		seen[iss.Key] = true
		old, existed := prevByKey[iss.Key]
		if !existed {
			deltas = append(deltas, domain.HistoryDelta{IssueKey: iss.Key, Field: "issue", Previous: "", New: "added", ObservedAt: at})
			continue
		}
		oldF, newF := trackedFields(old), trackedFields(iss)
		for i := range newF {
			if oldF[i].value != newF[i].value {
				deltas = append(deltas, domain.HistoryDelta{
					IssueKey:   iss.Key,
					Field:      newF[i].name,
					Previous:   oldF[i].value,
					New:        newF[i].value,
					ObservedAt: at,
				})
			}
		}
	}
	for _, iss := range prev {
		if !seen[iss.Key] {
			deltas = append(deltas, domain.HistoryDelta{IssueKey: iss.Key, Field: "issue", Previous: "removed", New: "", ObservedAt: at})
		}
	}
	return deltas
}

type trackedField struct {
	name  string
	value string
}

func trackedFields(iss domain.Issue) []trackedField {
	due := ""
	if iss.DueDate != nil {
		due = iss.DueDate.Format("2006-01-02")
	}
	return []trackedField{
		{"summary", iss.Summary},
		{"status", iss.Status},
		{"statusCategory", iss.StatusCategory},
		{"priority", iss.Priority},
		{"assignee", iss.Assignee},
		{"type", iss.Type},
		{"projectKey", iss.ProjectKey},
		{"dueDate", due},
		{"parentKey", iss.ParentKey},
		{"labels", strings.Join(iss.Labels, ",")},
		{"components", strings.Join(iss.Components, ",")},
		{"subtaskKeys", strings.Join(iss.SubtaskKeys, ",")},
		{"links", linksValue(iss.Links)},
		{"customFlags", flagsValue(iss.CustomFlags)},
		{"description", iss.DescriptionPlain},
	}
}

func linksValue(links []domain.Link) string {
	parts := make([]string, 0, len(links))
	for _, l := range links {
		parts = append(parts, l.Direction+":"+l.Relation+":"+l.LinkedKey)
	}
	return strings.Join(parts, ";")
}

func flagsValue(flags map[string]bool) string {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%t", k, flags[k]))
	}
	return strings.Join(parts, ",")
}
