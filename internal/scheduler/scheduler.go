// Package scheduler implements the lifecycle scheduler (C11, §4.11): four
// periodic jobs wrapping a github.com/robfig/cron/v3 Cron, grounded on
// aristath-sentinel's trader-go scheduler package.
package scheduler

import (
	"context"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"trading-order-core/libs/observability"
)

// Job is a named periodic task; Run receives the scheduler's base context
// so a long-running job can be cancelled on shutdown.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs the §4.11 periodic tasks on their own cron schedules.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  zerolog.Logger
}

// New creates a Scheduler whose job runs receive ctx. Cancelling ctx does
// not stop the cron runner; Stop does, after in-flight runs return.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ctx:  ctx,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the underlying cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("lifecycle scheduler started")
}

// Stop drains in-flight jobs and stops the cron runner.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info().Msg("lifecycle scheduler stopped")
}

// AddJob registers job on schedule, a standard 5-field cron expression or
// an "@every"/"@hourly"-style descriptor (§4.11 gives the periods as
// "@every 60s", "@every 30s").
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		runCtx := observability.WithRunInfo(s.ctx, observability.RunInfo{TaskID: job.Name(), RunID: uuid.NewString()})
		s.log.Debug().Str("job", job.Name()).Msg("running scheduled job")
		if err := job.Run(runCtx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("scheduled job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("scheduled job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule — used by tests
// and by operational tooling that wants an on-demand reconciliation pass.
func (s *Scheduler) RunNow(job Job) error {
	runCtx := observability.WithRunInfo(s.ctx, observability.RunInfo{TaskID: job.Name(), RunID: uuid.NewString()})
	return job.Run(runCtx)
}
