// Package worker runs the periodic bank jobs next to the HTTP server.
package worker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/unclejonsbank/backend/internal/config"
	"github.com/unclejonsbank/backend/internal/metrics"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work. Run returns how many items it
// processed. Jobs must be idempotent for a given day.
type Job struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int, error)
}

type Scheduler struct {
	cfg    *config.SchedulerConfig
	redis  *redis.Client
	jobs   []Job
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduler(cfg *config.SchedulerConfig, redisClient *redis.Client, logger *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		redis:  redisClient,
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
	}
}

// Run ticks once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job in order if this instance wins the tick lock. A
// failing job does not stop the ones after it.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.acquire(ctx) {
		s.logger.Debug("scheduler tick held by another instance")
		return false
	}

	now := s.now().UTC()
	for _, job := range s.jobs {
		start := time.Now()
		n, err := job.Run(ctx, now)
		if err != nil {
			metrics.SchedulerJobRuns.WithLabelValues(job.Name, "error").Inc()
			s.logger.Error("scheduler job failed", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		metrics.SchedulerJobRuns.WithLabelValues(job.Name, "ok").Inc()
		s.logger.Info("scheduler job done",
			zap.String("job", job.Name),
			zap.Int("processed", n),
			zap.Duration("took", time.Since(start)))
	}
	return true
}

// acquire takes the tick lock. Without Redis, or when Redis fails, the
// tick runs anyway.
func (s *Scheduler) acquire(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}
	ok, err := s.redis.SetNX(ctx, s.cfg.LockKey, s.cfg.InstanceID, s.cfg.LockTTL).Result()
	if err != nil {
		s.logger.Warn("scheduler lock unavailable, running unlocked", zap.Error(err))
		return true
	}
	return ok
}
