// Package scheduler fires the watcher and ingestion coordinators on
// independent periodic timers with single-flight semantics per job.
//
// Each job owns a guard acquired with an atomic test-and-set (TryLock). A
// tick that finds the guard held is skipped with a warning, never queued.
// The guard release is deferred so every exit path, including a panic
// inside a coordinator, frees it. Nothing a job does can escape its tick:
// errors are logged and panics recovered, and cron keeps firing.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"logharvest/internal/metrics"
)

// JobFunc is one coordinator invocation.
type JobFunc func(ctx context.Context) error

type job struct {
	name  string
	run   JobFunc
	guard sync.Mutex
}

// Scheduler runs registered jobs on their own intervals.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]*job
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]*job),
	}
}

// AddJob registers a job to run every interval. Job names must be unique.
func (s *Scheduler) AddJob(name string, interval time.Duration, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, run: run}
	s.jobs[name] = j
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(j.tick))
	log.Printf("[scheduler] job %s registered (interval %s)", name, interval)
	return nil
}

// Start begins firing job timers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timers. Jobs already in flight run to completion; there
// is no mid-flight cancellation.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Trigger runs a registered job out of band, subject to the same
// single-flight guard as a timer tick. It returns once the run finishes
// or is skipped.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	j.tick()
	return nil
}

// tick is one timer firing. The TryLock is the single-flight gate: a held
// guard means the previous run is still going, so this tick is a no-op.
func (j *job) tick() {
	if !j.guard.TryLock() {
		metrics.JobSkipsTotal.WithLabelValues(j.name).Inc()
		log.Printf("[scheduler] WARNING: job %s still running, skipping tick", j.name)
		return
	}
	defer j.guard.Unlock()

	j.runOnce()
}

// runOnce executes the coordinator with panic and error containment.
func (j *job) runOnce() {
	runID := uuid.NewString()[:8]
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			metrics.JobRunsTotal.WithLabelValues(j.name, "panic").Inc()
			log.Printf("[scheduler] job %s run %s PANIC after %s: %v", j.name, runID, time.Since(start), r)
		}
	}()

	log.Printf("[scheduler] job %s run %s starting", j.name, runID)
	err := j.run(context.Background())
	elapsed := time.Since(start)
	metrics.JobDurationSeconds.WithLabelValues(j.name).Observe(elapsed.Seconds())

	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(j.name, "error").Inc()
		log.Printf("[scheduler] job %s run %s failed after %s: %v", j.name, runID, elapsed, err)
		return
	}
	metrics.JobRunsTotal.WithLabelValues(j.name, "ok").Inc()
	log.Printf("[scheduler] job %s run %s finished in %s", j.name, runID, elapsed)
}
