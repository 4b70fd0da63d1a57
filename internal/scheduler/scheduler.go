package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/skillup-live/backend/config"
)

// Scheduler runs the periodic housekeeping jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	jobs   int
}

// New builds a scheduler from the sessions config. Jobs whose setting is zero are not registered.
func New(cfg config.SessionsConfig, sessions OverdueEnder, devices IdlePruner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		logger: logger,
	}
	if sessions != nil && cfg.AutoEndGraceMinutes > 0 {
		grace := time.Duration(cfg.AutoEndGraceMinutes) * time.Minute
		if err := s.add(cfg.OverdueSweepSpec, NewOverdueSessionJob(sessions, grace, logger)); err != nil {
			return nil, fmt.Errorf("schedule overdue sweep: %w", err)
		}
	}
	if devices != nil && cfg.DeviceIdleDays > 0 {
		maxIdle := time.Duration(cfg.DeviceIdleDays) * 24 * time.Hour
		if err := s.add(cfg.DevicePruneSpec, NewIdleDeviceJob(devices, maxIdle, logger)); err != nil {
			return nil, fmt.Errorf("schedule device prune: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) add(spec string, job cron.Job) error {
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return err
	}
	s.jobs++
	return nil
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int { return s.jobs }

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", s.jobs))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}
