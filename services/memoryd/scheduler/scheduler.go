// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler drives the daemon's background work: dispatching
// pending reflection jobs, the nightly decay pass, and terminal-job cleanup.
// Loop errors never escape; they log and back off with a doubling interval
// capped at 60 seconds.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/jobs"
	"github.com/openclaw/memoryd/services/memoryd/pipeline"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// Config tunes the three background loops.
type Config struct {
	// DispatchInterval is the pending-job poll period.
	DispatchInterval time.Duration

	// DispatchBatch caps jobs taken per tick. The default of 1 keeps
	// reflection serialized within one daemon.
	DispatchBatch int

	// DecayHour is the local hour (0-23) of the nightly decay pass.
	DecayHour int

	// DecayAgentID restricts the nightly pass to one agent; empty spans all.
	DecayAgentID string

	// CleanupInterval is the terminal-job cleanup period.
	CleanupInterval time.Duration

	// DrainTimeout bounds how long Stop waits for an in-flight job.
	DrainTimeout time.Duration

	// MaxBackoff caps the error backoff of every loop.
	MaxBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DispatchInterval: time.Second,
		DispatchBatch:    1,
		DecayHour:        2,
		CleanupInterval:  24 * time.Hour,
		DrainTimeout:     30 * time.Second,
		MaxBackoff:       60 * time.Second,
	}
}

// Scheduler owns the background goroutines. Start launches them; Stop
// drains and shuts them down.
type Scheduler struct {
	cfg    Config
	queue  *jobs.Queue
	store  store.Store
	exec   *pipeline.Executor
	logger *slog.Logger

	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	started bool

	mu         sync.Mutex
	currentJob string
}

// New creates a scheduler, filling zero config fields from the defaults.
func New(cfg Config, queue *jobs.Queue, st store.Store, exec *pipeline.Executor, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = def.DispatchInterval
	}
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = def.DispatchBatch
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		queue:  queue,
		store:  st,
		exec:   exec,
		logger: logger,
		runCtx: runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the dispatch, decay, and cleanup loops.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(3)
	go s.dispatchLoop()
	go s.decayLoop()
	go s.cleanupLoop()
	s.logger.Info("Scheduler started",
		"dispatchInterval", s.cfg.DispatchInterval,
		"decayHour", s.cfg.DecayHour,
		"cleanupInterval", s.cfg.CleanupInterval)
}

// Stop signals the loops, waits up to DrainTimeout for in-flight work, then
// cancels it. A job cut off mid-run is marked failed as shut down.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.done)

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("Drain timeout reached, cancelling in-flight work")
		s.cancel()
		<-drained
		s.failCurrentJob()
	}
	s.cancel()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) failCurrentJob() {
	s.mu.Lock()
	jobID := s.currentJob
	s.mu.Unlock()
	if jobID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.UpdateStatus(ctx, jobID, datatypes.JobFailed, datatypes.ErrShutdown.Error()); err != nil {
		s.logger.Error("Failed to mark interrupted job", "jobID", jobID, "error", err)
	}
}

// -----------------------------------------------------------------------------
// Dispatch loop
// -----------------------------------------------------------------------------

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	interval := s.cfg.DispatchInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-timer.C:
			if err := s.dispatchOnce(); err != nil {
				interval = doubleCapped(interval, s.cfg.MaxBackoff)
				s.logger.Warn("Job dispatch failed, backing off", "error", err, "nextInterval", interval)
			} else {
				interval = s.cfg.DispatchInterval
			}
			timer.Reset(interval)
		}
	}
}

// dispatchOnce claims up to DispatchBatch pending jobs and runs each to
// completion inline. A lost claim race is a skip, not an error.
func (s *Scheduler) dispatchOnce() error {
	pending, err := s.queue.GetPending(s.runCtx, s.cfg.DispatchBatch)
	if err != nil {
		return err
	}
	for _, job := range pending {
		claimed, err := s.queue.Claim(s.runCtx, job.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}

		s.mu.Lock()
		s.currentJob = job.ID
		s.mu.Unlock()

		// Job failures are already persisted on the job record; the loop
		// itself stays healthy.
		if err := s.exec.Run(s.runCtx, &job); err != nil {
			s.logger.Warn("Reflection job failed", "jobID", job.ID, "error", err)
		}

		s.mu.Lock()
		s.currentJob = ""
		s.mu.Unlock()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Decay loop
// -----------------------------------------------------------------------------

func (s *Scheduler) decayLoop() {
	defer s.wg.Done()
	backoff := time.Duration(0)

	for {
		var wait time.Duration
		if backoff > 0 {
			wait = backoff
		} else {
			wait = time.Until(NextDecayRun(time.Now(), s.cfg.DecayHour))
		}
		timer := time.NewTimer(wait)

		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := pipeline.RunDecayPass(s.runCtx, s.store, s.cfg.DecayAgentID, s.logger); err != nil {
				backoff = doubleCapped(max(backoff, time.Second), s.cfg.MaxBackoff)
				s.logger.Warn("Nightly decay pass failed, backing off", "error", err, "retryIn", backoff)
			} else {
				backoff = 0
			}
		}
	}
}

// NextDecayRun returns the next local-time instant at the given hour,
// strictly after now.
func NextDecayRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// -----------------------------------------------------------------------------
// Cleanup loop
// -----------------------------------------------------------------------------

func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()
	interval := s.cfg.CleanupInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-timer.C:
			n, err := s.queue.CleanupOldJobs(s.runCtx, jobs.RetentionDays)
			if err != nil {
				interval = doubleCapped(interval, s.cfg.MaxBackoff)
				s.logger.Warn("Job cleanup failed, backing off", "error", err, "nextInterval", interval)
			} else {
				if n > 0 {
					s.logger.Info("Cleaned up old reflection jobs", "deleted", n)
				}
				interval = s.cfg.CleanupInterval
			}
			timer.Reset(interval)
		}
	}
}

func doubleCapped(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}
