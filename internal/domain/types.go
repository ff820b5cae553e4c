package domain

import (
	"encoding/json"
	"time"
)

// Issue is the normalized, source-independent form of one tracker issue.
// Every field is populated on every issue: strings default to "", slices and
// maps are allocated empty, timestamps that were absent stay nil.
type Issue struct {
	Key            string          `json:"key"`
	ID             string          `json:"id"`
	ProjectKey     string          `json:"projectKey"`
	Type           string          `json:"type"`
	Summary        string          `json:"summary"`
	Status         string          `json:"status"`
	StatusCategory string          `json:"statusCategory"`
	Priority       string          `json:"priority"`
	Assignee       string          `json:"assignee"`
	Labels         []string        `json:"labels"`
	Components     []string        `json:"components"`
	CreatedAt      *time.Time      `json:"created"`
	UpdatedAt      *time.Time      `json:"updated"`
	DueDate        *time.Time      `json:"dueDate"`
	DescriptionPlain string        `json:"descriptionPlain"`
	DescriptionRaw json.RawMessage `json:"descriptionRaw,omitempty"`
	ParentKey      string          `json:"parentKey"`
	Parent         *IssueRef       `json:"parent,omitempty"`
	SubtaskKeys    []string        `json:"subtaskKeys"`
	Subtasks       []IssueRef      `json:"subtasks"`
	Links          []Link          `json:"links"`
	CustomFlags    map[string]bool `json:"customFlags"`
}

// IssueRef is the minimal embedded form used for parent and subtask stubs.
type IssueRef struct {
	Key            string `json:"key"`
	Summary        string `json:"summary"`
	Status         string `json:"status"`
	StatusCategory string `json:"statusCategory"`
	Priority       string `json:"priority"`
	Type           string `json:"type"`
}

// Link is one directed issue link as reported by the tracker.
// Direction is "inward" or "outward" relative to the owning issue, and
// Relation carries the human label for that direction ("is blocked by").
type Link struct {
	LinkedKey            string `json:"linkedKey"`
	Type                 string `json:"type"`
	Direction            string `json:"direction"`
	Relation             string `json:"relation"`
	LinkedSummary        string `json:"linkedSummary"`
	LinkedStatus         string `json:"linkedStatus"`
	LinkedStatusCategory string `json:"linkedStatusCategory"`
}

// Snapshot is one immutable sync result.
type Snapshot struct {
	TakenAt time.Time `json:"takenAt"`
	Issues  []Issue   `json:"issues"`
}

// HistoryDelta records one observed field change between two syncs.
type HistoryDelta struct {
	IssueKey   string    `json:"issueKey"`
	Field      string    `json:"field"`
	Previous   string    `json:"previous"`
	New        string    `json:"new"`
	ObservedAt time.Time `json:"observedAt"`
}

// SyncRun summarizes one sync attempt for the admin surface.
type SyncRun struct {
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Status     string     `json:"status"`
	Issues     int        `json:"issues"`
	Unresolved []string   `json:"unresolved,omitempty"`
	Error      string     `json:"error,omitempty"`
}
