package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/ledger"
)

// Jobs is the ledger work run on a timer
type Jobs interface {
	ResetDailyAds(ctx context.Context) error
	RunAuditSweep(ctx context.Context) (ledger.SweepResult, error)
	GenerateLeaderboard(ctx context.Context) ([]ledger.LeaderboardEntry, error)
}

// Job names
const (
	JobResetAds    = "reset-daily-ads"
	JobAudit       = "audit-sweep"
	JobLeaderboard = "leaderboard"
)

// Scheduler runs periodic ledger jobs
type Scheduler struct {
	sched gocron.Scheduler
	jobs  Jobs
	log   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New registers the jobs enabled by cfg. The ads counter reset always runs
// at local midnight; a zero interval disables the audit or leaderboard job.
func New(cfg *config.Config, jobs Jobs, log *slog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sched:  sched,
		jobs:   jobs,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(s.resetAds),
		gocron.WithName(JobResetAds),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, errors.Join(err, sched.Shutdown())
	}

	if cfg.AuditInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.AuditInterval),
			gocron.NewTask(s.audit),
			gocron.WithName(JobAudit),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, errors.Join(err, sched.Shutdown())
		}
	}

	if cfg.LeaderboardInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.LeaderboardInterval),
			gocron.NewTask(s.leaderboard),
			gocron.WithName(JobLeaderboard),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return nil, errors.Join(err, sched.Shutdown())
		}
	}

	return s, nil
}

// JobNames lists the registered jobs
func (s *Scheduler) JobNames() []string {
	var names []string
	for _, j := range s.sched.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

// Start runs the scheduler until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("starting scheduler", "jobs", s.JobNames())
	s.sched.Start()

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			s.log.Warn("scheduler shutdown", "error", err)
		}
	}()
}

// Shutdown cancels running jobs and waits for them to return
func (s *Scheduler) Shutdown() error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.stopErr = s.sched.Shutdown()
	})
	return s.stopErr
}

func (s *Scheduler) resetAds() {
	if err := s.jobs.ResetDailyAds(s.ctx); err != nil {
		s.log.Error("reset daily ads", "error", err)
	}
}

func (s *Scheduler) audit() {
	result, err := s.jobs.RunAuditSweep(s.ctx)
	switch {
	case errors.Is(err, ledger.ErrBusy):
		s.log.Info("scheduled audit skipped, sweep already running")
	case errors.Is(err, context.Canceled):
		s.log.Info("scheduled audit cancelled")
	case err != nil:
		s.log.Error("scheduled audit", "error", err)
	default:
		s.log.Info("scheduled audit finished",
			"checked", result.Checked,
			"penalized", result.Penalized,
			"errors", result.Errors,
		)
	}
}

func (s *Scheduler) leaderboard() {
	entries, err := s.jobs.GenerateLeaderboard(s.ctx)
	if err != nil {
		s.log.Error("generate leaderboard", "error", err)
		return
	}
	s.log.Debug("leaderboard generated", "entries", len(entries))
}
