/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package repo is the optional Postgres mirror. The filesystem store is the
// source of truth; the mirror exists for cross-host history queries and for
// the advisory lock that keeps two hosts sharing one database from syncing
// concurrently. Everything here is skipped when DB_DSN is unset.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SyncLockKey is the advisory-lock key shared by every instance of this
// service on one database.
const SyncLockKey int64 = 0x7461736b666f72 // "taskfor"

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Open(ctx context.Context, dsn string, log zerolog.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil { return nil, err }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool, log: log}, nil
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS issues (
    key             TEXT PRIMARY KEY,
    project_key     TEXT,
    type            TEXT,
    summary         TEXT,
    status          TEXT,
    status_category TEXT,
    priority        TEXT,
    assignee        TEXT,
    labels          TEXT[],
    components      TEXT[],
    parent_key      TEXT,
    created_at      TIMESTAMPTZ,
    updated_at      TIMESTAMPTZ,
    due_date        DATE,
    first_seen      TIMESTAMPTZ NOT NULL,
    last_seen       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
    id          BIGSERIAL PRIMARY KEY,
    issue_key   TEXT NOT NULL,
    field       TEXT NOT NULL,
    prev_val    TEXT,
    new_val     TEXT,
    observed_at TIMESTAMPTZ NOT NULL,
    UNIQUE (issue_key, field, prev_val, new_val, observed_at)
);
CREATE INDEX IF NOT EXISTS idx_history_key ON history(issue_key);

CREATE TABLE IF NOT EXISTS sync_runs (
    id          BIGSERIAL PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    issues      INT,
    unresolved  INT,
    success     BOOLEAN NOT NULL DEFAULT false,
    error       TEXT
);
`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, schemaSQL)
	return err
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil { return errors.New("advisory unlock returned false") }
	return err
}

const upsertIssueSQL = `
        INSERT INTO issues(key, project_key, type, summary, status, status_category,
            priority, assignee, labels, components, parent_key,
            created_at, updated_at, due_date, first_seen, last_seen)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
        ON CONFLICT(key) DO UPDATE SET
            project_key=EXCLUDED.project_key,
            type=EXCLUDED.type,
            summary=EXCLUDED.summary,
            status=EXCLUDED.status,
            status_category=EXCLUDED.status_category,
            priority=EXCLUDED.priority,
            assignee=EXCLUDED.assignee,
            labels=EXCLUDED.labels,
            components=EXCLUDED.components,
            parent_key=EXCLUDED.parent_key,
            created_at=EXCLUDED.created_at,
            updated_at=EXCLUDED.updated_at,
            due_date=EXCLUDED.due_date,
            last_seen=EXCLUDED.last_seen`

func (r *Repository) UpsertIssue(ctx context.Context, i domain.Issue, seenAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, upsertIssueSQL, i.Key, i.ProjectKey, i.Type, i.Summary, i.Status, i.StatusCategory,
		i.Priority, i.Assignee, i.Labels, i.Components, i.ParentKey,
		i.CreatedAt, i.UpdatedAt, i.DueDate, seenAt)
	return err
}

// MirrorIssues upserts a whole snapshot with one batch round trip.
func (r *Repository) MirrorIssues(ctx context.Context, issues []domain.Issue, seenAt time.Time) error {
	if len(issues) == 0 { return nil }
	batch := &pgx.Batch{}
	for _, i := range issues {
		batch.Queue(upsertIssueSQL, i.Key, i.ProjectKey, i.Type, i.Summary, i.Status, i.StatusCategory,
			i.Priority, i.Assignee, i.Labels, i.Components, i.ParentKey,
			i.CreatedAt, i.UpdatedAt, i.DueDate, seenAt)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range issues {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) BulkInsertDeltas(ctx context.Context, deltas []domain.HistoryDelta) error {
	if len(deltas) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO history(issue_key, field, prev_val, new_val, observed_at)
        VALUES($1,$2,$3,$4,$5)
        ON CONFLICT (issue_key, field, prev_val, new_val, observed_at) DO NOTHING`
	for _, d := range deltas {
		batch.Queue(q, d.IssueKey, d.Field, d.Previous, d.New, d.ObservedAt)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range deltas {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) StartSyncRun(ctx context.Context) (int64, error) {
	const q = `INSERT INTO sync_runs(started_at, success) VALUES(now(), false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&id); err != nil { return 0, err }
	return id, nil
}

func (r *Repository) FinishSyncRun(ctx context.Context, id int64, issues, unresolved int, success bool, errStr string) error {
	const q = `UPDATE sync_runs SET finished_at=now(), issues=$2, unresolved=$3, success=$4, error=$5 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, issues, unresolved, success, errStr)
	return err
}

// HistoryByKey reads the mirrored delta log for one issue, oldest first.
func (r *Repository) HistoryByKey(ctx context.Context, key string, limit int) ([]domain.HistoryDelta, error) {
	if limit <= 0 { limit = 200 }
	rows, err := r.db.Pool.Query(ctx, `SELECT issue_key, field, coalesce(prev_val,''), coalesce(new_val,''), observed_at
        FROM history WHERE issue_key=$1 ORDER BY observed_at DESC LIMIT $2`, key, limit)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.HistoryDelta
	for rows.Next() {
		var d domain.HistoryDelta
		if err := rows.Scan(&d.IssueKey, &d.Field, &d.Previous, &d.New, &d.ObservedAt); err != nil { return nil, err }
		out = append(out, d)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 { out[i], out[j] = out[j], out[i] }
	return out, rows.Err()
}
