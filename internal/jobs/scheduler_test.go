/*-------------------------------------------------------------------------
 *
 * scheduler_test.go
 *    Tests for the periodic job scheduler
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/jobs/scheduler_test.go
 *
 *-------------------------------------------------------------------------
 */

package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidatesJobs(t *testing.T) {
	s := NewScheduler()
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, s.Register(Job{Interval: time.Second, Run: noop}))
	assert.Error(t, s.Register(Job{Name: "a", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "a", Interval: time.Second}))
	require.NoError(t, s.Register(Job{Name: "a", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Register(Job{Name: "a", Interval: time.Second, Run: noop}))
	assert.Equal(t, []string{"a"}, s.Jobs())

	s.Start()
	defer s.Stop()
	assert.Error(t, s.Register(Job{Name: "b", Interval: time.Second, Run: noop}))
}

func TestJobsRunOnIntervalUntilStopped(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Register(Job{
		Name:       "slow",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		},
	}))

	s.Start()
	<-started
	s.Stop()
	assert.True(t, finished.Load())
}

func TestFailingJobKeepsRunning(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return errors.New("still broken")
		},
	}))

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) SweepOnce(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 2, nil
}

func TestRunNowRunsNamedJob(t *testing.T) {
	s := NewScheduler()
	sweeper := &fakeSweeper{}
	require.NoError(t, s.Register(RetrySweep(sweeper, time.Hour)))

	require.NoError(t, s.RunNow(JobRetrySweep))
	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Error(t, s.RunNow("missing"))
}
