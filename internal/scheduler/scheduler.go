// Package scheduler runs the periodic back-office jobs: maturing due
// fixed deposits and marking overdue loans defaulted.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
)

const (
	JobMatureDeposits = "mature_deposits"
	JobDetectDefaults = "detect_defaults"
)

// jobTimeout bounds a single job run
const jobTimeout = 10 * time.Minute

// DepositMaturer matures every deposit due as of a time
type DepositMaturer interface {
	MatureDue(ctx context.Context, asOf time.Time) (int, error)
}

// DefaultDetector defaults every overdue loan as of a time
type DefaultDetector interface {
	DetectDefaults(ctx context.Context, asOf time.Time) (int, error)
}

// Jobs contains the logic for all scheduled tasks
type Jobs struct {
	deposits DepositMaturer
	loans    DefaultDetector
	logger   *zap.Logger
	now      func() time.Time
}

// NewJobs creates a new Jobs runner
func NewJobs(d DepositMaturer, l DefaultDetector, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{deposits: d, loans: l, logger: logger, now: time.Now}
}

// MatureDeposits closes or renews all fixed deposits that reached maturity
func (j *Jobs) MatureDeposits() {
	j.run(JobMatureDeposits, j.deposits.MatureDue)
}

// DetectDefaults marks loans overdue beyond the grace period as defaulted
func (j *Jobs) DetectDefaults() {
	j.run(JobDetectDefaults, j.loans.DetectDefaults)
}

func (j *Jobs) run(job string, fn func(ctx context.Context, asOf time.Time) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	asOf := j.now().UTC()
	j.logger.Info("starting job", zap.String("job", job), zap.Time("as_of", asOf))

	n, err := fn(ctx, asOf)
	metrics.SchedulerRuns.WithLabelValues(job, metrics.Result(err)).Inc()
	if err != nil {
		j.logger.Error("job finished with errors",
			zap.String("job", job),
			zap.Int("processed", n),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	j.logger.Info("job finished",
		zap.String("job", job),
		zap.Int("processed", n),
		zap.Duration("duration", time.Since(start)),
	)
}

// Schedule holds the cron expressions for each job
type Schedule struct {
	Maturity string
	Defaults string
}

// Scheduler manages the cron jobs
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *zap.Logger
	schedule Schedule
}

// NewScheduler creates a new scheduler instance. A panicking job is
// recovered and logged; the next run still happens.
func NewScheduler(jobs *Jobs, logger *zap.Logger, schedule Schedule) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})))
	return &Scheduler{cron: c, jobs: jobs, logger: logger, schedule: schedule}
}

// Start registers the jobs and starts the cron scheduler
func (s *Scheduler) Start() error {
	entries := []struct {
		name string
		expr string
		fn   func()
	}{
		{JobMatureDeposits, s.schedule.Maturity, s.jobs.MatureDeposits},
		{JobDetectDefaults, s.schedule.Defaults, s.jobs.DetectDefaults},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.expr, e.fn); err != nil {
			return fmt.Errorf("failed to schedule %s job %q: %w", e.name, e.expr, err)
		}
		s.logger.Info("scheduled job", zap.String("job", e.name), zap.String("schedule", e.expr))
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler. The returned context is done once
// running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
