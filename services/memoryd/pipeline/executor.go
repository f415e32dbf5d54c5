// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/jobs"
	"github.com/openclaw/memoryd/services/memoryd/observability"
)

// DefaultJobDeadline is the soft deadline one reflection job gets before its
// context is cancelled.
const DefaultJobDeadline = 10 * time.Minute

// Executor runs a claimed job through the stage list in order, persisting a
// stage result per stage as it goes.
type Executor struct {
	queue    *jobs.Queue
	stages   []Stage
	logger   *slog.Logger
	deadline time.Duration
}

// NewExecutor creates an executor over the given stage list. deadline <= 0
// selects the 10-minute default.
func NewExecutor(queue *jobs.Queue, stages []Stage, logger *slog.Logger, deadline time.Duration) *Executor {
	if deadline <= 0 {
		deadline = DefaultJobDeadline
	}
	return &Executor{queue: queue, stages: stages, logger: logger, deadline: deadline}
}

// Run executes one job already in the running state. A stage failure marks
// the stage and the job failed and stops the run; earlier side effects stay
// in place. Later stages are never recorded for a failed job.
func (e *Executor) Run(ctx context.Context, job *datatypes.ReflectionJob) error {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	pc := NewContext(job)
	e.logger.Info("Reflection job started", "jobID", job.ID, "agentID", job.AgentID, "sessionID", job.SessionID)

	for _, stage := range e.stages {
		start := time.Now().UTC()
		if err := e.queue.UpdateStageResult(ctx, job.ID, datatypes.StageResult{
			Stage:     stage.Name,
			Status:    datatypes.StageRunning,
			StartedAt: start,
		}); err != nil {
			return e.fail(ctx, job.ID, stage.Name, start, err)
		}

		err := stage.Run(ctx, pc)
		elapsed := time.Since(start)
		observability.StageDuration.WithLabelValues(stage.Name).Observe(elapsed.Seconds())

		if err != nil {
			e.logger.Error("Reflection stage failed",
				"jobID", job.ID, "stage", stage.Name, "duration", elapsed, "error", err)
			return e.fail(ctx, job.ID, stage.Name, start, err)
		}

		done := time.Now().UTC()
		if err := e.queue.UpdateStageResult(ctx, job.ID, datatypes.StageResult{
			Stage:       stage.Name,
			Status:      datatypes.StageComplete,
			StartedAt:   start,
			CompletedAt: &done,
			Counts:      pc.StageCounts(stage.Name),
		}); err != nil {
			return e.fail(ctx, job.ID, stage.Name, start, err)
		}
		e.logger.Debug("Reflection stage complete",
			"jobID", job.ID, "stage", stage.Name, "duration", elapsed)
	}

	if err := e.queue.UpdateStatus(ctx, job.ID, datatypes.JobComplete, ""); err != nil {
		return fmt.Errorf("mark job complete: %w", err)
	}
	observability.JobsProcessed.WithLabelValues(string(datatypes.JobComplete)).Inc()

	embCalls, embTexts, llmCalls := pc.Usage.Snapshot()
	e.logger.Info("Reflection job complete",
		"jobID", job.ID,
		"agentID", job.AgentID,
		"stats", pc.Stats,
		"embedderCalls", embCalls,
		"embeddedTexts", embTexts,
		"llmCalls", llmCalls)
	return nil
}

// fail records the failed stage result and marks the job failed. Recording
// runs against the background context so a deadline-induced failure can
// still be persisted.
func (e *Executor) fail(ctx context.Context, jobID, stageName string, start time.Time, cause error) error {
	recordCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	done := time.Now().UTC()
	if err := e.queue.UpdateStageResult(recordCtx, jobID, datatypes.StageResult{
		Stage:       stageName,
		Status:      datatypes.StageFailed,
		StartedAt:   start,
		CompletedAt: &done,
		Error:       cause.Error(),
	}); err != nil {
		e.logger.Error("Failed to record stage failure", "jobID", jobID, "stage", stageName, "error", err)
	}
	if err := e.queue.UpdateStatus(recordCtx, jobID, datatypes.JobFailed, cause.Error()); err != nil {
		e.logger.Error("Failed to mark job failed", "jobID", jobID, "error", err)
	}
	observability.JobsProcessed.WithLabelValues(string(datatypes.JobFailed)).Inc()
	return cause
}
