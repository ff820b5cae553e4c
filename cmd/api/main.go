/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/adapters/jira"
	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	httpapi "github.com/MohamadSamaka/jira-TaskForge/internal/http"
	"github.com/MohamadSamaka/jira-TaskForge/internal/jobs"
	"github.com/MohamadSamaka/jira-TaskForge/internal/logger"
	"github.com/MohamadSamaka/jira-TaskForge/internal/repo"
	"github.com/MohamadSamaka/jira-TaskForge/internal/services"
	"github.com/MohamadSamaka/jira-TaskForge/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, p := range cfg.Validate() {
		log.Warn().Str("problem", p).Msg("config")
	}

	// Snapshot store
	st, err := store.New(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("store init failed")
	}

	// Optional Postgres mirror
	var mirror services.Mirror
	if cfg.DBDSN != "" {
		db, err := repo.Open(ctx, cfg.DBDSN, log)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, mirroring disabled")
		} else {
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				log.Warn().Err(err).Msg("postgres schema setup failed, mirroring disabled")
			} else {
				mirror = r
			}
		}
	}

	// Adapters
	jc := jira.NewClient(cfg, log)
	if len(cfg.Validate()) == 0 {
		go func() {
			ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if _, err := jc.Myself(ctx); err != nil {
				log.Error().Err(err).Msg("jira auth probe failed")
			} else {
				log.Info().Msg("jira auth probe ok")
			}
		}()
	}

	// Services
	svc := services.New(cfg, st, jc, mirror, log)

	// HTTP server (Gin)
	router := httpapi.NewRouter(cfg, log, svc)

	// Cron
	cron := jobs.NewCron(cfg, log, svc)
	cron.Start()
	defer cron.Stop()

	// graceful shutdown
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	time.Sleep(500 * time.Millisecond)
}
