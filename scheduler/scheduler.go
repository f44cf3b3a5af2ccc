// Package scheduler runs the engine's periodic jobs: the momentum decay sweep
// and the weekly and monthly point resets.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	// Run executes the job. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

type funcJob struct {
	name string
	fn   func(context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

// JobFunc adapts a function to Job.
func JobFunc(name string, fn func(context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

var (
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// JobResult records one execution.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

type scheduledJob struct {
	job      Job
	schedule Schedule
	nextRun  time.Time
	running  bool
	runs     int64
	failures int64
	last     *JobResult
}

// Options configures a Scheduler.
type Options struct {
	Logger *slog.Logger
	// Tick is how often due jobs are checked. Defaults to one second.
	Tick  time.Duration
	Clock func() time.Time
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// with itself: a tick that finds it still running skips it.
type Scheduler struct {
	mu      sync.Mutex
	log     *slog.Logger
	tick    time.Duration
	now     func() time.Time
	jobs    map[string]*scheduledJob
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		log:  opts.Logger,
		tick: opts.Tick,
		now:  opts.Clock,
		jobs: make(map[string]*scheduledJob),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.tick <= 0 {
		s.tick = time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register adds a job. It may be called before or after Start.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := job.Name()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	sj := &scheduledJob{job: job, schedule: schedule, nextRun: schedule.Next(s.now())}
	s.jobs[name] = sj
	s.log.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", sj.nextRun.Format(time.RFC3339))
	return nil
}

// Start launches the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels the loop and waits for running jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sj := range s.jobs {
		if sj.running || now.Before(sj.nextRun) {
			continue
		}
		sj.running = true
		sj.nextRun = sj.schedule.Next(now)
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj)
		}(sj)
	}
}

// RunNow executes a job immediately, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if ok {
		sj.running = true
	}
	s.mu.Unlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.execute(ctx, sj)
	return res, res.Err
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) JobResult {
	name := sj.job.Name()
	started := s.now()
	s.log.Info("job started", "job", name)
	err := sj.job.Run(ctx)
	res := JobResult{JobName: name, StartedAt: started, Duration: s.now().Sub(started), Err: err}

	s.mu.Lock()
	sj.running = false
	sj.runs++
	if err != nil {
		sj.failures++
	}
	sj.last = &res
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.log.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	return res
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name       string
	Schedule   string
	NextRun    time.Time
	Runs       int64
	Failures   int64
	LastResult *JobResult
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		out = append(out, JobInfo{
			Name:       name,
			Schedule:   sj.schedule.String(),
			NextRun:    sj.nextRun,
			Runs:       sj.runs,
			Failures:   sj.failures,
			LastResult: sj.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
