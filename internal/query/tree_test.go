package query

import (
	"testing"

	"github.com/MohamadSamaka/jira-TaskForge/internal/domain"
)

func child(key, parent string) domain.Issue {
	return issue(key, func(i *domain.Issue) { i.ParentKey = parent })
}

func TestBuildTreeNesting(t *testing.T) {
	issues := []domain.Issue{
		child("PROJ-2", "PROJ-1"),
		issue("PROJ-1"),
		child("PROJ-3", "PROJ-1"),
	}
	tree := BuildTree(issues)
	if len(tree) != 1 || tree[0].Key != "PROJ-1" {
		t.Fatalf("roots = %+v", tree)
	}
	kids := tree[0].Children
	if len(kids) != 2 || kids[0].Key != "PROJ-2" || kids[1].Key != "PROJ-3" {
		t.Fatalf("children = %+v", kids)
	}
}

func TestBuildTreeOrphanBecomesRoot(t *testing.T) {
	issues := []domain.Issue{
		child("PROJ-5", "PROJ-404"),
		issue("PROJ-1"),
	}
	tree := BuildTree(issues)
	if len(tree) != 2 {
		t.Fatalf("roots = %+v", tree)
	}
	if tree[0].Key != "PROJ-1" || tree[1].Key != "PROJ-5" {
		t.Fatalf("root order = %s, %s", tree[0].Key, tree[1].Key)
	}
}

func TestBuildTreeDeterministicOrder(t *testing.T) {
	a := []domain.Issue{issue("B-1"), issue("A-1"), child("A-2", "A-1")}
	b := []domain.Issue{child("A-2", "A-1"), issue("B-1"), issue("A-1")}
	ta, tb := BuildTree(a), BuildTree(b)
	if len(ta) != len(tb) {
		t.Fatalf("%d vs %d roots", len(ta), len(tb))
	}
	for i := range ta {
		if ta[i].Key != tb[i].Key {
			t.Fatalf("root %d: %s vs %s", i, ta[i].Key, tb[i].Key)
		}
	}
	if ta[0].Key != "A-1" || ta[1].Key != "B-1" {
		t.Fatalf("sorted roots = %s, %s", ta[0].Key, ta[1].Key)
	}
}

func TestBuildTreeDuplicateKeepsLatest(t *testing.T) {
	issues := []domain.Issue{
		issue("A-1", func(i *domain.Issue) { i.Summary = "old" }),
		issue("A-1", func(i *domain.Issue) { i.Summary = "new" }),
	}
	tree := BuildTree(issues)
	if len(tree) != 1 || tree[0].Summary != "new" {
		t.Fatalf("tree = %+v", tree)
	}
}

func TestFlattenDepth(t *testing.T) {
	issues := []domain.Issue{
		issue("A-1"),
		child("A-2", "A-1"),
		child("A-3", "A-2"),
		issue("B-1"),
	}
	flat := Flatten(BuildTree(issues))
	if len(flat) != 4 {
		t.Fatalf("flat = %+v", flat)
	}
	wantKeys := []string{"A-1", "A-2", "A-3", "B-1"}
	wantDepth := []int{0, 1, 2, 0}
	for i := range flat {
		if flat[i].Key != wantKeys[i] || flat[i].Depth != wantDepth[i] {
			t.Fatalf("flat[%d] = %s depth %d", i, flat[i].Key, flat[i].Depth)
		}
	}
}
