package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunAtStartExecutesImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan struct{})

	s := New(Options{}, zerolog.Nop())
	s.Add(Job{
		Name:       "test",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				close(done)
			}
			return nil
		},
	})

	go func() { _ = s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAtStart job should execute without waiting for the interval")
	}
}

func TestSingleFlightSkipsOverlappingTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running atomic.Int32
	var maxConcurrent atomic.Int32
	var runs atomic.Int32

	s := New(Options{}, zerolog.Nop())
	s.Add(Job{
		Name:       "slow",
		Interval:   10 * time.Millisecond,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			cur := running.Add(1)
			for {
				observed := maxConcurrent.Load()
				if cur <= observed || maxConcurrent.CompareAndSwap(observed, cur) {
					break
				}
			}
			time.Sleep(60 * time.Millisecond)
			running.Add(-1)
			return nil
		},
	})

	go func() { _ = s.Run(ctx) }()

	time.Sleep(250 * time.Millisecond)
	cancel()

	if maxConcurrent.Load() > 1 {
		t.Fatalf("job must be single-flight, observed %d concurrent runs", maxConcurrent.Load())
	}
	if runs.Load() == 0 {
		t.Fatal("job should have run at least once")
	}
}

func TestJobsAreIndependent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fastRan := make(chan struct{})
	var once atomic.Bool

	s := New(Options{}, zerolog.Nop())
	s.Add(Job{
		Name:       "stuck",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	s.Add(Job{
		Name:       "fast",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			if once.CompareAndSwap(false, true) {
				close(fastRan)
			}
			return nil
		},
	})

	go func() { _ = s.Run(ctx) }()

	select {
	case <-fastRan:
	case <-time.After(2 * time.Second):
		t.Fatal("a stuck job must not block the other job")
	}
}

func TestAddRejectsBadJobs(t *testing.T) {
	s := New(Options{}, zerolog.Nop())

	defer func() {
		if recover() == nil {
			t.Fatal("non-positive interval should panic")
		}
	}()
	s.Add(Job{Name: "bad", Interval: 0, Run: func(ctx context.Context) error { return nil }})
}
