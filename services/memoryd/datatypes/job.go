// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// JobStatus is the lifecycle state of a reflection job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// IsTerminal reports whether the status is complete or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobComplete || s == JobFailed
}

// StageStatus is the state of one pipeline stage within a job.
type StageStatus string

const (
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
)

// StageResult is one entry in a job's stages array. Stage names are unique
// within a job; the queue's atomic upsert guarantees it.
type StageResult struct {
	Stage       string         `bson:"stage" json:"stage"`
	Status      StageStatus    `bson:"status" json:"status"`
	StartedAt   time.Time      `bson:"startedAt" json:"startedAt"`
	CompletedAt *time.Time     `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	Counts      map[string]int `bson:"counts,omitempty" json:"counts,omitempty"`
	Error       string         `bson:"error,omitempty" json:"error,omitempty"`
}

// ReflectionJob is the persisted record of one pipeline execution.
type ReflectionJob struct {
	ID          string         `bson:"_id,omitempty" json:"id"`
	AgentID     string         `bson:"agentId" json:"agentId"`
	SessionID   string         `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	Status      JobStatus      `bson:"status" json:"status"`
	CreatedAt   time.Time      `bson:"createdAt" json:"createdAt"`
	StartedAt   *time.Time     `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt *time.Time     `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	Stages      []StageResult  `bson:"stages" json:"stages"`
	Error       string         `bson:"error,omitempty" json:"error,omitempty"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// TranscriptMetadataKey is the job metadata key under which TriggerReflection
// stashes the session transcript.
const TranscriptMetadataKey = "transcript"

// Transcript returns the stashed session transcript, or "" when absent.
func (j *ReflectionJob) Transcript() string {
	if j.Metadata == nil {
		return ""
	}
	if s, ok := j.Metadata[TranscriptMetadataKey].(string); ok {
		return s
	}
	return ""
}

// CandidateMemory is an atom: a proposed memory produced by the extract stage
// and refined by later stages, not yet (or never) persisted.
type CandidateMemory struct {
	Text       string     `json:"text"`
	Tags       []string   `json:"tags"`
	MemoryType MemoryType `json:"memoryType,omitempty"`
	Confidence float64    `json:"confidence"`

	// Metadata carries inter-stage marks such as LikelyDuplicateOfKey.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Embedding is filled by the deduplicate stage (document role).
	Embedding []float32 `json:"-"`

	// Contradictions are attached by the conflict-check stage.
	Contradictions []Contradiction `json:"contradictions,omitempty"`

	// MemoryID is set once the classify stage persists the atom.
	MemoryID string `json:"memoryId,omitempty"`
}

// Atom metadata keys written by pipeline stages.
const (
	// LikelyDuplicateOfKey holds the ID of an existing near-duplicate memory.
	LikelyDuplicateOfKey = "likelyDuplicateOf"

	// SupersedesHintKey marks an atom whose text declares it replaces an
	// earlier memory (graph-link turns it into a SUPERSEDES edge).
	SupersedesHintKey = "supersedesHint"
)

// LikelyDuplicateOf returns the near-duplicate target ID, or "".
func (a *CandidateMemory) LikelyDuplicateOf() string {
	if a.Metadata == nil {
		return ""
	}
	if s, ok := a.Metadata[LikelyDuplicateOfKey].(string); ok {
		return s
	}
	return ""
}

// SetMeta sets an atom metadata key, allocating the map on first use.
func (a *CandidateMemory) SetMeta(key string, value any) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = value
}
