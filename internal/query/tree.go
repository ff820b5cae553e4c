/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package query

import (
	"sort"

	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
)

// Node is one issue in the parent/child hierarchy.
type Node struct {
	domain.Issue
	Children []*Node `json:"children"`
}

// FlatNode is a tree entry flattened back to a list for tabular rendering.
type FlatNode struct {
	domain.Issue
	Depth int `json:"depth"`
}

// BuildTree nests issues under their parents. Issues whose parent is not in
// the set become roots. Duplicate keys keep the later issue. Roots and every
// children list are sorted by key, so output order is independent of input
// order.
func BuildTree(issues []domain.Issue) []*Node {
	byKey := map[string]*Node{}
	order := make([]string, 0, len(issues))
	for _, iss := range issues {
		if _, seen := byKey[iss.Key]; !seen {
			order = append(order, iss.Key)
		}
		byKey[iss.Key] = &Node{Issue: iss, Children: []*Node{}}
	}

	roots := make([]*Node, 0, len(order))
	for _, key := range order {
		node := byKey[key]
		if node.ParentKey != "" {
			if parent, ok := byKey[node.ParentKey]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// Flatten walks the tree depth-first, recording each node's depth.
func Flatten(tree []*Node) []FlatNode {
	out := make([]FlatNode, 0, len(tree))
	var walk func(nodes []*Node, depth int)
	walk = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			out = append(out, FlatNode{Issue: n.Issue, Depth: depth})
			walk(n.Children, depth+1)
		}
	}
	walk(tree, 0)
	return out
}
