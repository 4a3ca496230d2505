// Package scheduler runs periodic polling jobs on a cron runtime. Jobs
// are registered by id with a fixed interval and can be added, replaced,
// and removed while the scheduler is running.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability"

	"github.com/robfig/cron/v3"
)

// JobFunc is a single polling job run. The context is canceled when the
// scheduler gives up waiting during Stop.
type JobFunc func(ctx context.Context) error

// intervalSchedule fires a fixed duration after each activation. Unlike
// cron's @every descriptor it is not rounded to whole seconds, so the
// interval is honored exactly.
type intervalSchedule time.Duration

func (d intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// Status describes one registered job.
type Status struct {
	Registered bool      `json:"registered"`
	Running    bool      `json:"running"`
	NextRun    time.Time `json:"next_run,omitzero"`
}

// Scheduler wraps a cron runtime with id-addressed interval jobs.
type Scheduler struct {
	o11y    observability.Observability
	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	entries    map[string]cron.EntryID
	running    bool
	activeJobs atomic.Int32
}

// New creates a stopped scheduler.
func New(o11y observability.Observability) *Scheduler {
	logger := newCronLogger(o11y)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		o11y: o11y,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		baseCtx: ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob schedules fn to run every interval. A job with the same id is
// replaced; its in-flight run, if any, finishes undisturbed. The first
// run happens one interval after registration.
func (s *Scheduler) AddJob(id string, interval time.Duration, fn JobFunc) error {
	if id == "" {
		return errdefs.NewUser("job id is required")
	}
	if interval <= 0 {
		return errdefs.NewUser("job interval must be positive").WithDetail("job_id", id)
	}
	if fn == nil {
		return errdefs.NewUser("job function is required").WithDetail("job_id", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old)
	}
	s.entries[id] = s.cron.Schedule(intervalSchedule(interval), cron.FuncJob(func() {
		s.runJob(id, fn)
	}))

	s.o11y.Logger().Info(context.Background(), "polling job added",
		observability.String("job_id", id),
		observability.String("interval", interval.String()),
	)
	return nil
}

// RemoveJob unschedules the job. Removing an unknown id is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	entryID, ok := s.entries[id]
	if ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if ok {
		s.o11y.Logger().Info(context.Background(), "polling job removed",
			observability.String("job_id", id),
		)
	}
}

// Jobs returns the registered job ids.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Status reports on one job. Unknown ids report Registered false.
func (s *Scheduler) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[id]
	if !ok {
		return Status{}
	}
	return Status{
		Registered: true,
		Running:    s.running,
		NextRun:    s.cron.Entry(entryID).Next,
	}
}

// Start begins running scheduled jobs. Starting twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	s.o11y.Logger().Info(context.Background(), "scheduler started",
		observability.Int("jobs", len(s.entries)),
	)
}

// Stop halts scheduling and waits for in-flight jobs to finish. If ctx
// expires first, the jobs' contexts are canceled and ctx's error is
// returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.o11y.Logger().Info(ctx, "scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.o11y.Logger().Warn(ctx, "scheduler stop timed out with jobs still running",
			observability.Int("active_jobs", int(s.activeJobs.Load())),
		)
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(id string, fn JobFunc) {
	s.activeJobs.Add(1)
	defer s.activeJobs.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			runsTotal.WithLabelValues(id, "panic").Inc()
			s.o11y.Logger().Error(s.baseCtx, "polling job panicked",
				observability.String("job_id", id),
				observability.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := fn(s.baseCtx); err != nil {
		runsTotal.WithLabelValues(id, "error").Inc()
		s.o11y.Logger().Error(s.baseCtx, "polling job failed",
			observability.String("job_id", id),
			observability.String("duration", time.Since(start).String()),
			observability.Error(err),
		)
		return
	}
	runsTotal.WithLabelValues(id, "success").Inc()
	s.o11y.Logger().Debug(s.baseCtx, "polling job completed",
		observability.String("job_id", id),
		observability.String("duration", time.Since(start).String()),
	)
}
