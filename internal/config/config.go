/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	LogLevel string
	TZ       string
	HTTPAddr string

	DataDir string
	DBDSN   string

	JiraBaseURL    string
	JiraAuthMode   string // "cloud" (email+token basic) or "server" (bearer PAT)
	JiraEmail      string
	JiraAPIToken   string
	JiraJQL        string
	JiraTimeout    time.Duration
	JiraMaxRetries int
	JiraPageSize   int
	JiraMaxIssues  int
	JiraFieldsFile string
	JiraFieldMap   map[string]string // name -> id

	RelationDepth int
	RelationBatch int
	FetchWorkers  int

	BlockedKeywords  []string
	BlockedFlagField string
	CustomFlagFields []string

	RankingFile string
	Ranking     Weights

	SyncCron string
}

// Weights drives the next-up ranker. All values are additive except
// BlockedPenalty, which is subtracted when the issue has an active blocker.
type Weights struct {
	Priority        map[string]float64 `yaml:"priority"`
	PriorityDefault float64            `yaml:"priorityDefault"`

	DueOverdue  float64 `yaml:"dueOverdue"`
	DueToday    float64 `yaml:"dueToday"`
	DueSoon     float64 `yaml:"dueSoon"`
	DueThisWeek float64 `yaml:"dueThisWeek"`
	DueLater    float64 `yaml:"dueLater"`

	RecencyHot      float64 `yaml:"recencyHot"`
	RecencyToday    float64 `yaml:"recencyToday"`
	RecencyThisWeek float64 `yaml:"recencyThisWeek"`

	BlockedPenalty float64 `yaml:"blockedPenalty"`
}

func DefaultWeights() Weights {
	return Weights{
		Priority: map[string]float64{
			"Highest": 100, "High": 75, "Medium": 50, "Low": 25, "Lowest": 10,
		},
		PriorityDefault: 30,
		DueOverdue:      80,
		DueToday:        60,
		DueSoon:         40,
		DueThisWeek:     20,
		DueLater:        5,
		RecencyHot:      15,
		RecencyToday:    10,
		RecencyThisWeek: 5,
		BlockedPenalty:  50,
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" { return def }
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" { return def }
	i, err := strconv.Atoi(v)
	if err != nil { return def }
	return i
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" { return def }
	d, err := time.ParseDuration(v)
	if err != nil { return def }
	return d
}

func parseStrings(csv string) []string {
	if csv == "" { return nil }
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		out = append(out, p)
	}
	return out
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		TZ:       getenv("APP_TZ", "UTC"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DataDir: getenv("DATA_DIR", "data"),
		DBDSN:   getenv("DB_DSN", ""),

		JiraBaseURL:    getenv("JIRA_BASE_URL", ""),
		JiraAuthMode:   getenv("JIRA_AUTH_MODE", "cloud"),
		JiraEmail:      getenv("JIRA_EMAIL", ""),
		JiraAPIToken:   getenv("JIRA_API_TOKEN", ""),
		JiraJQL:        getenv("JIRA_JQL", "updated >= -30d ORDER BY updated DESC"),
		JiraTimeout:    dur("JIRA_TIMEOUT", 30*time.Second),
		JiraMaxRetries: atoi("JIRA_MAX_RETRIES", 3),
		JiraPageSize:   atoi("JIRA_PAGE_SIZE", 100),
		JiraMaxIssues:  atoi("JIRA_MAX_ISSUES", 2000),
		JiraFieldsFile: getenv("JIRA_FIELDS_FILE", ""),

		RelationDepth: atoi("RELATION_DEPTH", 1),
		RelationBatch: atoi("RELATION_BATCH", 50),
		FetchWorkers:  atoi("FETCH_WORKERS", 4),

		BlockedKeywords:  parseStrings(getenv("BLOCKED_KEYWORDS", "is blocked by,blocked,depends on")),
		BlockedFlagField: getenv("BLOCKED_FLAG_FIELD", "Flagged"),
		CustomFlagFields: parseStrings(getenv("CUSTOM_FLAG_FIELDS", "Flagged")),

		RankingFile: getenv("RANKING_FILE", ""),
		Ranking:     DefaultWeights(),

		SyncCron: getenv("SYNC_CRON", ""),
	}

	// set global timezone if available
	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	} else {
		log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
	}

	// Optional: load Jira custom fields mapping from file (name->id)
	if cfg.JiraFieldsFile != "" {
		if data, err := os.ReadFile(cfg.JiraFieldsFile); err == nil {
			type fieldDef struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			var arr []fieldDef
			if err := json.Unmarshal(data, &arr); err == nil {
				m := map[string]string{}
				for _, f := range arr {
					n := strings.TrimSpace(f.Name)
					if n != "" && f.ID != "" { m[n] = f.ID }
				}
				if len(m) > 0 { cfg.JiraFieldMap = m }
			}
		}
	}

	// Optional: ranking weight overrides. Only keys present in the file
	// replace the defaults.
	if cfg.RankingFile != "" {
		if data, err := os.ReadFile(cfg.RankingFile); err == nil {
			w := cfg.Ranking
			if err := yaml.Unmarshal(data, &w); err == nil {
				if w.Priority == nil { w.Priority = cfg.Ranking.Priority }
				cfg.Ranking = w
			} else {
				log.Printf("warning: cannot parse ranking file %s: %v", cfg.RankingFile, err)
			}
		}
	}

	return cfg
}

// Validate reports operator-facing misconfigurations. An empty slice means
// the sync can run.
func (c Config) Validate() []string {
	var problems []string
	if c.JiraBaseURL == "" {
		problems = append(problems, "JIRA_BASE_URL is not set")
	}
	switch c.JiraAuthMode {
	case "cloud":
		if c.JiraEmail == "" || c.JiraAPIToken == "" {
			problems = append(problems, "cloud auth needs JIRA_EMAIL and JIRA_API_TOKEN")
		}
	case "server":
		if c.JiraAPIToken == "" {
			problems = append(problems, "server auth needs JIRA_API_TOKEN (personal access token)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown JIRA_AUTH_MODE %q (want cloud or server)", c.JiraAuthMode))
	}
	if c.JiraPageSize <= 0 {
		problems = append(problems, "JIRA_PAGE_SIZE must be positive")
	}
	if c.RelationDepth < 0 {
		problems = append(problems, "RELATION_DEPTH must not be negative")
	}
	return problems
}
