/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package resolve expands a seed issue set with related issues: parents,
// subtasks and linked issues, fetched in batches. Hierarchy edges never
// consume budget; each link hop does. A best-known-depth map makes cycles
// and diamond shapes safe: a key is refetched never, and rewalked only when
// rediscovered at a shallower depth.
package resolve

import (
	"context"
	"fmt"

	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
	"github.com/MohamadSamaka/jira-TaskForge/internal/normalize"
	"github.com/rs/zerolog"
)

// Fetcher supplies raw payloads for a batch of keys. failed carries the keys
// that could not be fetched; only infrastructure-level breakage (auth, rate
// limit exhaustion, cancellation) is returned as an error.
type Fetcher interface {
	IssuesByKeys(ctx context.Context, keys []string) (found map[string]map[string]any, failed []string, err error)
}

type Options struct {
	LinkDepth int // how many link hops from a seed may be followed
	BatchSize int
	Normalize normalize.Options
}

type Result struct {
	Issues     []domain.Issue
	Unresolved []string
}

// Expand resolves the relation closure of seeds. Per-key fetch or
// normalization failures become Unresolved entries, never run failures.
// Result.Issues is ordered by first discovery: seeds in input order first,
// then related issues in the order their references were encountered.
func Expand(ctx context.Context, seeds []domain.Issue, fetch Fetcher, opts Options, log zerolog.Logger) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}

	best := map[string]int{}           // key -> smallest link depth seen
	got := map[string]domain.Issue{}   // fetched and normalized
	walked := map[string]int{}         // key -> depth its edges were walked at
	dead := map[string]bool{}          // unresolved, never retried
	var order, pending, unresolved []string

	discover := func(key string, depth int) {
		if key == "" || dead[key] {
			return
		}
		if d, seen := best[key]; seen {
			if depth < d {
				best[key] = depth
			}
			return
		}
		best[key] = depth
		order = append(order, key)
		if _, have := got[key]; !have {
			pending = append(pending, key)
		}
	}

	walkEdges := func(iss domain.Issue, depth int) {
		discover(iss.ParentKey, depth)
		for _, k := range iss.SubtaskKeys {
			discover(k, depth)
		}
		if depth < opts.LinkDepth {
			for _, l := range iss.Links {
				discover(l.LinkedKey, depth+1)
			}
		}
	}

	for _, seed := range seeds {
		if seed.Key == "" {
			continue
		}
		if _, dup := got[seed.Key]; dup {
			continue
		}
		got[seed.Key] = seed
		discover(seed.Key, 0)
	}

	for {
		progressed := false
		for _, key := range order {
			iss, have := got[key]
			if !have {
				continue
			}
			d := best[key]
			if w, done := walked[key]; done && w <= d {
				continue
			}
			walked[key] = d
			walkEdges(iss, d)
			progressed = true
		}

		if len(pending) == 0 {
			if !progressed {
				break
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("relation expansion interrupted: %w", err)
		}

		n := opts.BatchSize
		if n > len(pending) {
			n = len(pending)
		}
		batch := pending[:n]
		pending = pending[n:]

		found, failed, err := fetch.IssuesByKeys(ctx, batch)
		if err != nil {
			return Result{}, fmt.Errorf("batch fetch: %w", err)
		}
		for _, key := range failed {
			log.Warn().Str("key", key).Msg("related issue could not be fetched")
			dead[key] = true
			unresolved = append(unresolved, key)
		}
		for _, key := range batch {
			if dead[key] {
				continue
			}
			raw, ok := found[key]
			if !ok {
				log.Warn().Str("key", key).Msg("related issue missing from batch response")
				dead[key] = true
				unresolved = append(unresolved, key)
				continue
			}
			iss, err := normalize.Normalize(raw, opts.Normalize)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("related issue failed normalization")
				dead[key] = true
				unresolved = append(unresolved, key)
				continue
			}
			got[key] = iss
		}
	}

	out := Result{Issues: make([]domain.Issue, 0, len(order)), Unresolved: unresolved}
	for _, key := range order {
		if iss, ok := got[key]; ok {
			out.Issues = append(out.Issues, iss)
		}
	}
	return out, nil
}
