package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.JiraAuthMode != "cloud" {
		t.Fatalf("default auth mode = %q", cfg.JiraAuthMode)
	}
	if cfg.JiraPageSize != 100 || cfg.JiraMaxIssues != 2000 {
		t.Fatalf("default paging = %d/%d", cfg.JiraPageSize, cfg.JiraMaxIssues)
	}
	if cfg.RelationDepth != 1 {
		t.Fatalf("default relation depth = %d", cfg.RelationDepth)
	}
	want := []string{"is blocked by", "blocked", "depends on"}
	if len(cfg.BlockedKeywords) != len(want) {
		t.Fatalf("blocked keywords = %v", cfg.BlockedKeywords)
	}
	for i, k := range want {
		if cfg.BlockedKeywords[i] != k {
			t.Fatalf("blocked keywords = %v", cfg.BlockedKeywords)
		}
	}
	if cfg.Ranking.Priority["Highest"] != 100 || cfg.Ranking.BlockedPenalty != 50 {
		t.Fatalf("default weights = %+v", cfg.Ranking)
	}
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("BLOCKED_KEYWORDS", " waiting on , gated ")
	t.Setenv("CUSTOM_FLAG_FIELDS", "Flagged,Impediment")
	cfg := Load()
	if len(cfg.BlockedKeywords) != 2 || cfg.BlockedKeywords[0] != "waiting on" || cfg.BlockedKeywords[1] != "gated" {
		t.Fatalf("blocked keywords = %v", cfg.BlockedKeywords)
	}
	if len(cfg.CustomFlagFields) != 2 || cfg.CustomFlagFields[1] != "Impediment" {
		t.Fatalf("flag fields = %v", cfg.CustomFlagFields)
	}
}

func TestLoadRankingOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ranking.yaml")
	data := []byte("priority:\n  Highest: 90\ndueOverdue: 70\nblockedPenalty: 30\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RANKING_FILE", path)
	cfg := Load()
	if cfg.Ranking.Priority["Highest"] != 90 {
		t.Fatalf("priority override = %v", cfg.Ranking.Priority)
	}
	if cfg.Ranking.DueOverdue != 70 || cfg.Ranking.BlockedPenalty != 30 {
		t.Fatalf("weights = %+v", cfg.Ranking)
	}
	if cfg.Ranking.DueToday != 60 {
		t.Fatalf("unset keys should keep defaults, got %v", cfg.Ranking.DueToday)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	if len(cfg.Validate()) == 0 {
		t.Fatal("expected problems without base URL and credentials")
	}
	t.Setenv("JIRA_BASE_URL", "https://example.atlassian.net")
	t.Setenv("JIRA_EMAIL", "dev@example.com")
	t.Setenv("JIRA_API_TOKEN", "tok")
	cfg = Load()
	if problems := cfg.Validate(); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	t.Setenv("JIRA_AUTH_MODE", "kerberos")
	cfg = Load()
	if len(cfg.Validate()) == 0 {
		t.Fatal("expected problem for unknown auth mode")
	}
}
