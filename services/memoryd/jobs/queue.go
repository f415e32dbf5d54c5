// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jobs is the persisted reflection-job queue. Jobs survive restarts;
// the scheduler picks pending jobs back up on the next dispatch tick.
package jobs

import (
	"context"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// Queue defaults.
const (
	DefaultListLimit    = 20
	DefaultPendingLimit = 10
	RetentionDays       = 30
)

// Queue manages reflection jobs on top of the store.
type Queue struct {
	store store.Store
}

// NewQueue creates a queue over the given store.
func NewQueue(s store.Store) *Queue {
	return &Queue{store: s}
}

// Create inserts a pending job with an empty stages array and returns its ID.
func (q *Queue) Create(ctx context.Context, agentID, sessionID string, metadata map[string]any) (string, error) {
	job := &datatypes.ReflectionJob{
		AgentID:   agentID,
		SessionID: sessionID,
		Status:    datatypes.JobPending,
		CreatedAt: time.Now().UTC(),
		Stages:    []datatypes.StageResult{},
		Metadata:  metadata,
	}
	return q.store.InsertJob(ctx, job)
}

// Get returns the job, or datatypes.ErrNotFound for unknown and malformed IDs.
func (q *Queue) Get(ctx context.Context, jobID string) (*datatypes.ReflectionJob, error) {
	return q.store.GetJob(ctx, jobID)
}

// UpdateStatus sets the job status. Transitioning to running stamps
// startedAt; transitioning to a terminal status stamps completedAt.
func (q *Queue) UpdateStatus(ctx context.Context, jobID string, status datatypes.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	set := map[string]any{"status": status}
	if errMsg != "" {
		set["error"] = errMsg
	}
	switch {
	case status == datatypes.JobRunning:
		set["startedAt"] = now
	case status.IsTerminal():
		set["completedAt"] = now
	}
	return q.store.UpdateJob(ctx, jobID, store.Update{Set: set})
}

// UpdateStageResult records a stage result. Recording the same stage twice
// replaces the earlier entry; the stages array never grows two entries for
// one stage name.
func (q *Queue) UpdateStageResult(ctx context.Context, jobID string, res datatypes.StageResult) error {
	return q.store.UpsertStageResult(ctx, jobID, res)
}

// Claim transitions pending → running with a conditional update. False means
// another worker won the claim or the job left the pending state.
func (q *Queue) Claim(ctx context.Context, jobID string) (bool, error) {
	return q.store.ClaimJob(ctx, jobID)
}

// ListJobs returns the agent's jobs most-recent-first. limit <= 0 selects
// the default of 20.
func (q *Queue) ListJobs(ctx context.Context, agentID string, limit int) ([]datatypes.ReflectionJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return q.store.ListJobs(ctx, agentID, limit)
}

// GetPending returns pending jobs oldest-first. limit <= 0 selects the
// default of 10.
func (q *Queue) GetPending(ctx context.Context, limit int) ([]datatypes.ReflectionJob, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return q.store.ListPendingJobs(ctx, limit)
}

// CleanupOldJobs deletes terminal jobs completed more than olderThanDays ago
// and returns the count. olderThanDays <= 0 selects the 30-day retention.
func (q *Queue) CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = RetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	return q.store.DeleteTerminalJobsBefore(ctx, cutoff)
}
