package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is invoked on every tick of a job.
type JobFunc func(ctx context.Context) error

// Job describes one independently scheduled polling job.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        JobFunc
}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
}

// Scheduler drives fixed-interval jobs. Each job has its own single-flight
// guard: a tick that fires while the previous run is still in flight is
// skipped with a log, never queued. Jobs are independent of each other.
type Scheduler struct {
	opts   Options
	jobs   []Job
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Add registers a job. Must be called before Run.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 {
		panic("scheduler job interval must be positive")
	}
	if job.Run == nil {
		panic("scheduler job func required")
	}
	s.jobs = append(s.jobs, job)
}

// Run blocks, driving all registered jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	logger := s.logger.With().Str("job", job.Name).Logger()

	var inFlight atomic.Bool
	execute := func() {
		if !inFlight.CompareAndSwap(false, true) {
			logger.Warn().Msg("previous run still in flight; tick skipped")
			return
		}
		defer inFlight.Store(false)

		started := time.Now()
		if err := job.Run(ctx); err != nil {
			logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("job run failed")
			return
		}
		logger.Debug().Dur("elapsed", time.Since(started)).Msg("job run complete")
	}

	if job.RunAtStart {
		go execute()
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("job stopped")
			return
		case <-ticker.C:
			go execute()
		}
	}
}
