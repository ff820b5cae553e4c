/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package normalize maps raw tracker payloads onto the canonical issue
// schema. The mapping is total: every output field is set on every issue,
// absent inputs collapse to zero values, and no payload shape can panic.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/adf"
	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/rs/zerolog"
)

// Options carries the per-deployment knobs: which custom fields feed the
// CustomFlags map, and the optional display-name -> field-id mapping used to
// find them in the payload.
type Options struct {
	FlagFields []string
	FieldIDs   map[string]string
}

// Category constants for the closed statusCategory set.
const (
	CategoryTodo       = "todo"
	CategoryInProgress = "in-progress"
	CategoryDone       = "done"
)

// Normalize converts one raw search/issue payload into a domain.Issue.
// The only rejection is a missing or empty issue key; everything else
// degrades to zero values.
func Normalize(raw map[string]any, opts Options) (domain.Issue, error) {
	key := toStr(raw["key"])
	if key == "" {
		return domain.Issue{}, fmt.Errorf("issue without key: %w", domain.ErrValidation)
	}
	fields, _ := raw["fields"].(map[string]any)

	status, _ := fields["status"].(map[string]any)
	statusCat, _ := status["statusCategory"].(map[string]any)

	iss := domain.Issue{
		Key:            key,
		ID:             toStr(raw["id"]),
		ProjectKey:     toStr(mapField(fields, "project", "key")),
		Type:           toStr(fields["issuetype"]),
		Summary:        toStr(fields["summary"]),
		Status:         toStr(status["name"]),
		StatusCategory: Category(toStr(statusCat["name"])),
		Priority:       toStr(fields["priority"]),
		Assignee:       assignee(fields["assignee"]),
		Labels:         toStrs(fields["labels"]),
		Components:     toStrs(fields["components"]),
		CreatedAt:      parseTime(toStr(fields["created"])),
		UpdatedAt:      parseTime(toStr(fields["updated"])),
		DueDate:        parseDate(toStr(fields["duedate"])),
		SubtaskKeys:    []string{},
		Subtasks:       []domain.IssueRef{},
		Links:          []domain.Link{},
		CustomFlags:    map[string]bool{},
	}

	iss.DescriptionPlain, iss.DescriptionRaw = description(fields["description"])

	if parent, ok := fields["parent"].(map[string]any); ok {
		ref := minimalRef(parent)
		iss.Parent = &ref
		iss.ParentKey = ref.Key
	}
	if subs, ok := fields["subtasks"].([]any); ok {
		for _, s := range subs {
			sm, ok := s.(map[string]any)
			if !ok { continue }
			ref := minimalRef(sm)
			if ref.Key == "" { continue }
			iss.Subtasks = append(iss.Subtasks, ref)
			iss.SubtaskKeys = append(iss.SubtaskKeys, ref.Key)
		}
	}
	if links, ok := fields["issuelinks"].([]any); ok {
		for _, l := range links {
			lm, ok := l.(map[string]any)
			if !ok { continue }
			iss.Links = append(iss.Links, normalizeLink(lm))
		}
	}

	for _, name := range opts.FlagFields {
		iss.CustomFlags[name] = truthy(flagValue(fields, name, opts.FieldIDs))
	}

	return iss, nil
}

// All normalizes a batch, dropping payloads Normalize rejects. Drops are
// logged per issue and never fail the batch.
func All(raws []map[string]any, opts Options, log zerolog.Logger) []domain.Issue {
	out := make([]domain.Issue, 0, len(raws))
	for _, raw := range raws {
		iss, err := Normalize(raw, opts)
		if err != nil {
			log.Warn().Err(err).Str("id", toStr(raw["id"])).Msg("dropping invalid issue payload")
			continue
		}
		out = append(out, iss)
	}
	return out
}

// Category maps a tracker status-category name onto the closed set
// todo | in-progress | done. Unknown names fall back to todo so the issue
// stays visible and rankable.
func Category(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "done", "complete", "closed":
		return CategoryDone
	case "in progress", "in-progress", "indeterminate":
		return CategoryInProgress
	default:
		return CategoryTodo
	}
}

func normalizeLink(link map[string]any) domain.Link {
	linkType, _ := link["type"].(map[string]any)
	typeName := toStr(linkType["name"])

	var linked map[string]any
	out := domain.Link{Type: typeName, Direction: "unknown", Relation: typeName}
	if in, ok := link["inwardIssue"].(map[string]any); ok {
		out.Direction = "inward"
		linked = in
		if rel := toStr(linkType["inward"]); rel != "" { out.Relation = rel }
	} else if o, ok := link["outwardIssue"].(map[string]any); ok {
		out.Direction = "outward"
		linked = o
		if rel := toStr(linkType["outward"]); rel != "" { out.Relation = rel }
	} else {
		return out
	}

	out.LinkedKey = toStr(linked["key"])
	lf, _ := linked["fields"].(map[string]any)
	out.LinkedSummary = toStr(lf["summary"])
	if st, ok := lf["status"].(map[string]any); ok {
		out.LinkedStatus = toStr(st["name"])
		cat, _ := st["statusCategory"].(map[string]any)
		out.LinkedStatusCategory = Category(toStr(cat["name"]))
	}
	return out
}

func minimalRef(issue map[string]any) domain.IssueRef {
	fields, _ := issue["fields"].(map[string]any)
	status, _ := fields["status"].(map[string]any)
	cat, _ := status["statusCategory"].(map[string]any)
	return domain.IssueRef{
		Key:            toStr(issue["key"]),
		Summary:        toStr(fields["summary"]),
		Status:         toStr(status["name"]),
		StatusCategory: Category(toStr(cat["name"])),
		Priority:       toStr(fields["priority"]),
		Type:           toStr(fields["issuetype"]),
	}
}

func description(desc any) (string, json.RawMessage) {
	switch d := desc.(type) {
	case nil:
		return "", nil
	case string:
		raw, _ := json.Marshal(d)
		return d, raw
	default:
		plain := strings.TrimSpace(adf.Text(d))
		raw, err := json.Marshal(d)
		if err != nil { raw = nil }
		return plain, raw
	}
}

func assignee(v any) string {
	m, ok := v.(map[string]any)
	if !ok { return toStr(v) }
	for _, k := range []string{"displayName", "name", "emailAddress"} {
		if s := toStr(m[k]); s != "" { return s }
	}
	return ""
}

// flagValue locates a watched field in the payload, trying the mapped
// custom-field id first, then the display name itself.
func flagValue(fields map[string]any, name string, ids map[string]string) any {
	if id, ok := ids[name]; ok && id != "" {
		if v, ok := fields[id]; ok { return v }
	}
	return fields[name]
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "none" && s != "false"
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return false
	}
}

// toStr extracts a display string from scalar values and the option-shaped
// maps Jira uses for priority, issuetype and friends.
func toStr(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		for _, k := range []string{"name", "displayName", "value"} {
			if s, ok := t[k].(string); ok && s != "" { return s }
		}
		return ""
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}

func toStrs(v any) []string {
	arr, ok := v.([]any)
	if !ok { return []string{} }
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s := toStr(e); s != "" { out = append(out, s) }
	}
	return out
}

func mapField(fields map[string]any, outer, inner string) any {
	m, ok := fields[outer].(map[string]any)
	if !ok { return nil }
	return m[inner]
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

func parseTime(s string) *time.Time {
	if s == "" { return nil }
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func parseDate(s string) *time.Time {
	if s == "" { return nil }
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return parseTime(s)
}
