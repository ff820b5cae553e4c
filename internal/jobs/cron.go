package jobs

import (
	"context"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/MohamadSamaka/jira-TaskForge/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type service interface{ RunSync(ctx context.Context) error }

type Cron struct {
	cfg config.Config
	log zerolog.Logger
	svc service
	c   *cron.Cron
}

// NewCron schedules periodic syncs. An empty SYNC_CRON leaves the schedule
// empty; Start is then a no-op.
func NewCron(cfg config.Config, log zerolog.Logger, svc service) *Cron {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Warn().Str("tz", cfg.TZ).Msg("cron: unknown timezone, using UTC")
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, c: c}
	if cfg.SyncCron != "" {
		if _, err := c.AddFunc(cfg.SyncCron, cr.sync); err != nil {
			log.Error().Err(err).Str("spec", cfg.SyncCron).Msg("cron: invalid schedule")
		}
	}
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	cr.log.Info().Msg("cron: sync")
	if err := cr.svc.RunSync(ctx); err != nil {
		if services.IsBusy(err) {
			cr.log.Info().Msg("cron: sync already running, skipped")
			return
		}
		cr.log.Error().Err(err).Msg("cron: sync failed")
	}
}
