package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const jobTimeout = time.Minute

// OverdueEnder ends LIVE sessions that ran past their duration.
type OverdueEnder interface {
	EndOverdue(ctx context.Context, grace time.Duration) (int, error)
}

// IdlePruner revokes devices that have not been seen for a while.
type IdlePruner interface {
	PruneIdle(ctx context.Context, maxIdle time.Duration) (int64, error)
}

// OverdueSessionJob ends sessions a host forgot to end.
type OverdueSessionJob struct {
	sessions OverdueEnder
	grace    time.Duration
	logger   *zap.Logger
}

// NewOverdueSessionJob creates the overdue session sweep.
func NewOverdueSessionJob(sessions OverdueEnder, grace time.Duration, logger *zap.Logger) *OverdueSessionJob {
	return &OverdueSessionJob{sessions: sessions, grace: grace, logger: logger}
}

// Run executes one sweep.
func (j *OverdueSessionJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.sessions.EndOverdue(ctx, j.grace)
	if err != nil {
		j.logger.Error("Failed to end overdue sessions", zap.Int("ended", n), zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("Ended overdue live sessions", zap.Int("count", n), zap.Duration("grace", j.grace))
	}
}

// IdleDeviceJob signs out devices idle for longer than maxIdle.
type IdleDeviceJob struct {
	devices IdlePruner
	maxIdle time.Duration
	logger  *zap.Logger
}

// NewIdleDeviceJob creates the idle device prune.
func NewIdleDeviceJob(devices IdlePruner, maxIdle time.Duration, logger *zap.Logger) *IdleDeviceJob {
	return &IdleDeviceJob{devices: devices, maxIdle: maxIdle, logger: logger}
}

// Run executes one prune.
func (j *IdleDeviceJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.devices.PruneIdle(ctx, j.maxIdle)
	if err != nil {
		j.logger.Error("Failed to prune idle devices", zap.Error(err))
		return
	}
	j.logger.Info("Idle device prune completed", zap.Int64("revoked", n), zap.Duration("max_idle", j.maxIdle))
}
