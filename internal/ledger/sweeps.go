package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Background task states
const (
	SweepRunning   = "running"
	SweepDone      = "done"
	SweepFailed    = "failed"
	SweepCancelled = "cancelled"
)

// keep this many finished tasks for status polling
const sweepHistory = 20

// Job is the pollable state of one background task
type Job[R any] struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     R          `json:"result"`
	Error      string     `json:"error,omitempty"`
}

// Sweep is the pollable state of one audit sweep
type Sweep = Job[SweepResult]

type sweepTask[R any] struct {
	sweep  Job[R]
	input  any
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// Sweeper runs one kind of background task, one at a time
type Sweeper[R any] struct {
	name  string
	mu    sync.Mutex
	tasks map[string]*sweepTask[R]
	run   func(ctx context.Context, id string, input any) (R, error)
	log   *slog.Logger
}

func newSweeper[R any](name string, run func(ctx context.Context, id string, input any) (R, error), log *slog.Logger) *Sweeper[R] {
	return &Sweeper[R]{
		name:  name,
		tasks: make(map[string]*sweepTask[R]),
		run:   run,
		log:   log,
	}
}

// Start launches a task detached from ctx's cancellation. input is handed
// to the run func as is. It returns ErrBusy while another task is running.
func (s *Sweeper[R]) Start(ctx context.Context, input any) (Job[R], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.sweep.Status == SweepRunning {
			return t.sweep, ErrBusy
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &sweepTask[R]{
		sweep: Job[R]{
			ID:        uuid.NewString(),
			Status:    SweepRunning,
			StartedAt: time.Now(),
		},
		input:  input,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[t.sweep.ID] = t
	s.prune()

	go s.execute(runCtx, t)
	return t.sweep, nil
}

func (s *Sweeper[R]) execute(ctx context.Context, t *sweepTask[R]) {
	defer close(t.done)
	defer t.cancel()

	res, err := s.run(ctx, t.sweep.ID, t.input)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	t.sweep.FinishedAt = &now
	t.sweep.Result = res
	t.err = err
	switch {
	case err == nil:
		t.sweep.Status = SweepDone
	case errors.Is(err, context.Canceled):
		t.sweep.Status = SweepCancelled
	default:
		t.sweep.Status = SweepFailed
		t.sweep.Error = err.Error()
		s.log.Error("background task failed", "task", s.name, "id", t.sweep.ID, "error", err)
	}
}

// prune drops the oldest finished sweeps beyond sweepHistory. Caller holds mu.
func (s *Sweeper[R]) prune() {
	if len(s.tasks) <= sweepHistory {
		return
	}
	finished := make([]*sweepTask[R], 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.sweep.Status != SweepRunning {
			finished = append(finished, t)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].sweep.StartedAt.Before(finished[j].sweep.StartedAt)
	})
	for _, t := range finished {
		if len(s.tasks) <= sweepHistory {
			break
		}
		delete(s.tasks, t.sweep.ID)
	}
}

// Get returns a snapshot of the task with the given ID
func (s *Sweeper[R]) Get(id string) (Job[R], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Job[R]{}, ErrNotFound
	}
	return t.sweep, nil
}

func (s *Sweeper[R]) errOf(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.err
	}
	return nil
}

// Cancel stops a running task. Work already done is kept.
func (s *Sweeper[R]) Cancel(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t.cancel()
	return nil
}

// Wait blocks until the task finishes or ctx is done
func (s *Sweeper[R]) Wait(ctx context.Context, id string) (Job[R], error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return Job[R]{}, ErrNotFound
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return s.Get(id)
	}
	return s.Get(id)
}

// StartAuditSweep launches a background sweep and returns its handle
func (l *Ledger) StartAuditSweep(ctx context.Context) (Sweep, error) {
	return l.sweeps.Start(ctx, nil)
}

// AuditSweep returns the state of a sweep started earlier
func (l *Ledger) AuditSweep(id string) (Sweep, error) {
	return l.sweeps.Get(id)
}

// CancelAuditSweep stops a running sweep
func (l *Ledger) CancelAuditSweep(id string) error {
	return l.sweeps.Cancel(id)
}

// RunAuditSweep runs a sweep and waits for it. Cancelling ctx cancels the
// sweep.
func (l *Ledger) RunAuditSweep(ctx context.Context) (SweepResult, error) {
	sw, err := l.sweeps.Start(ctx, nil)
	if err != nil {
		return SweepResult{}, err
	}

	sw, err = l.sweeps.Wait(ctx, sw.ID)
	if err != nil {
		return SweepResult{}, err
	}
	if sw.Status == SweepRunning {
		l.sweeps.Cancel(sw.ID)
		sw, _ = l.sweeps.Wait(context.Background(), sw.ID)
	}

	return sw.Result, l.sweeps.errOf(sw.ID)
}
