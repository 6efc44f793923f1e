/*-------------------------------------------------------------------------
 *
 * scheduler.go
 *    Periodic background jobs for NeuronLedger
 *
 * Runs named jobs on fixed intervals with graceful shutdown. Each job
 * runs in its own goroutine; a run is never overlapped by the next tick
 * of the same job.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/jobs/scheduler.go
 *
 *-------------------------------------------------------------------------
 */

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neurondb/NeuronLedger/internal/metrics"
)

/* Func is one run of a job */
type Func func(ctx context.Context) error

/* Job is a named function run on an interval */
type Job struct {
	Name     string
	Interval time.Duration
	Run      Func
	/* RunOnStart runs the job immediately instead of after the first interval */
	RunOnStart bool
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

/* Register adds a job; jobs must be registered before Start */
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job registration failed: name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job registration failed: job='%s', interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job registration failed: job='%s', run function is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job registration failed: job='%s', scheduler already started", job.Name)
	}
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("job registration failed: job='%s', already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

/* Jobs returns the registered job names */
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.Name)
	}
	return names
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(job)
	}
	metrics.InfoWithContext(s.ctx, "Job scheduler started", map[string]interface{}{
		"jobs": len(s.jobs),
	})
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.runOnce(job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(job)
		}
	}
}

func (s *Scheduler) runOnce(job Job) {
	start := time.Now()
	status := "success"

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: job='%s', panic=%v", job.Name, r)
			}
		}()
		return job.Run(s.ctx)
	}()

	if err != nil {
		status = "error"
		if s.ctx.Err() == nil {
			metrics.ErrorWithContext(s.ctx, "Background job failed", err, map[string]interface{}{
				"job": job.Name,
			})
		}
	}
	metrics.RecordJobRun(job.Name, status, time.Since(start))
}

/* RunNow runs a registered job once, synchronously */
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	var found *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("job not found: job='%s'", name)
	}
	start := time.Now()
	err := found.Run(s.ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordJobRun(name, status, time.Since(start))
	return err
}

/* Stop cancels all job loops and waits for running jobs to return */
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
