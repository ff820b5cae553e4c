/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package adf extracts plain text from Atlassian Document Format trees.
package adf

import "strings"

// blockFinish maps a container node type to the transform applied to its
// concatenated children. Types not listed here (doc, bulletList, lists,
// panels, anything unknown) pass their children through unchanged.
var blockFinish = map[string]func(string) string{
	"paragraph": func(s string) string { return strings.TrimSpace(s) + "\n" },
	"heading":   func(s string) string { return strings.TrimSpace(s) + "\n" },
	"listItem":  func(s string) string { return "• " + strings.TrimSpace(s) + "\n" },
	"blockquote": func(s string) string {
		lines := strings.Split(strings.TrimSpace(s), "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n") + "\n"
	},
	"codeBlock":   func(s string) string { return "```\n" + s + "```\n" },
	"table":       func(s string) string { return s + "\n" },
	"tableRow":    func(s string) string { return s + " | " },
	"tableHeader": func(s string) string { return s + " | " },
	"tableCell":   func(s string) string { return s + " | " },
}

type frame struct {
	typ      string
	children []any
	idx      int
	buf      strings.Builder
}

func newFrame(node map[string]any) *frame {
	f := &frame{}
	f.typ, _ = node["type"].(string)
	f.children, _ = node["content"].([]any)
	return f
}

// leaf resolves node types that never recurse. The second return reports
// whether the node was a leaf.
func leaf(node map[string]any) (string, bool) {
	typ, _ := node["type"].(string)
	switch typ {
	case "text":
		s, _ := node["text"].(string)
		return s, true
	case "emoji":
		attrs, _ := node["attrs"].(map[string]any)
		if s, ok := attrs["shortName"].(string); ok {
			return s, true
		}
		s, _ := attrs["text"].(string)
		return s, true
	case "mention":
		attrs, _ := node["attrs"].(map[string]any)
		if s, ok := attrs["text"].(string); ok {
			return "@" + s, true
		}
		s, _ := attrs["id"].(string)
		return "@" + s, true
	case "hardBreak":
		return "\n", true
	case "media", "mediaGroup", "mediaSingle":
		return "[media]", true
	case "inlineCard":
		attrs, _ := node["attrs"].(map[string]any)
		if s, ok := attrs["url"].(string); ok {
			return s, true
		}
		return "[link]", true
	case "rule":
		return "---\n", true
	}
	return "", false
}

// Text extracts plain text from an ADF document. It is total: any input,
// including nil, malformed trees and unknown node types, yields a string.
// Unknown containers contribute their children without extra markup. The
// walk uses an explicit frame stack, so document depth is bounded by heap,
// not goroutine stack.
func Text(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	node, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	if s, done := leaf(node); done {
		return s
	}

	stack := []*frame{newFrame(node)}
	for {
		top := stack[len(stack)-1]
		if top.idx < len(top.children) {
			child := top.children[top.idx]
			top.idx++
			switch c := child.(type) {
			case string:
				top.buf.WriteString(c)
			case map[string]any:
				if s, done := leaf(c); done {
					top.buf.WriteString(s)
				} else {
					stack = append(stack, newFrame(c))
				}
			}
			continue
		}
		out := top.buf.String()
		if fin, ok := blockFinish[top.typ]; ok {
			out = fin(out)
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return out
		}
		stack[len(stack)-1].buf.WriteString(out)
	}
}
