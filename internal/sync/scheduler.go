package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mana-sync-service/internal/config"
	"mana-sync-service/internal/logger"
)

// Runner is the part of Manager the scheduler drives.
type Runner interface {
	IsRunning() bool
	RunAll(ctx context.Context) []Outcome
}

type Scheduler struct {
	cfg     config.SchedulerConfig
	runner  Runner
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(cfg config.SchedulerConfig, runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the sync job. An invalid interval is returned as an error
// rather than silently disabling the schedule.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync)
	if err != nil {
		return fmt.Errorf("failed to schedule sync job %q: %w", s.cfg.Interval, err)
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop cancels an in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	logger.Log.Info("Triggering scheduled sync")

	if s.runner.IsRunning() {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}

	for _, out := range s.runner.RunAll(s.ctx) {
		if out.Err != nil {
			logger.Log.Warn("Scheduled sync did not succeed, next attempt at the following interval",
				zap.String("collection", out.Collection),
				zap.String("status", string(out.Status)),
			)
		}
	}
}
