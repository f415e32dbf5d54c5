// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the document-store contract the daemon persists
// through, plus two implementations: Mongo (production) and Memory (tests
// and degraded operation).
//
// All cross-record references are opaque IDs; the store never resolves
// graph links itself. Updates are expressed through the Update builder so
// callers state exactly which $set/$push/$inc operations they intend.
package store

import (
	"context"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Collection names. The Mongo implementation maps them one-to-one; the
// in-memory implementation keeps a map per collection.
const (
	CollectionMemories     = "memories"
	CollectionEntities     = "entities"
	CollectionEpisodes     = "episodes"
	CollectionPendingEdges = "pending_edges"
	CollectionJobs         = "reflection_jobs"
)

// Update carries the mutation a caller intends, keyed by bson field path.
// Only the populated operator maps are sent to the store.
type Update struct {
	Set         map[string]any
	Push        map[string]any
	Inc         map[string]any
	AddToSet    map[string]any
	SetOnInsert map[string]any
}

// IsZero reports whether the update carries no operations.
func (u Update) IsZero() bool {
	return len(u.Set) == 0 && len(u.Push) == 0 && len(u.Inc) == 0 &&
		len(u.AddToSet) == 0 && len(u.SetOnInsert) == 0
}

// MemoryFilter selects memory records. Zero-valued fields are ignored.
type MemoryFilter struct {
	AgentID       string
	IDs           []string
	Text          string
	Tags          []string // match if the record carries any of these tags
	CreatedBefore *time.Time
}

// MemoryUpdate pairs a memory ID with the update to apply, for bulk writes.
type MemoryUpdate struct {
	ID     string
	Update Update
}

// ScoredMemory is a similarity-search hit.
type ScoredMemory struct {
	Memory datatypes.Memory
	Score  float64
}

// DuplicateGroup is one (agent, text) group with more than one member,
// produced by the global-dedup aggregation.
type DuplicateGroup struct {
	AgentID string
	Text    string
	IDs     []string
}

// EntityListOptions shape ListEntities. SortBy accepts "memoryCount",
// "lastSeenAt", or "name"; empty means memoryCount descending.
type EntityListOptions struct {
	Type   string
	Limit  int
	SortBy string
}

// Store is the persistence contract of the daemon. Implementations must make
// each individual document update atomic; no method requires multi-document
// transactions.
type Store interface {
	// Memories.
	InsertMemory(ctx context.Context, m *datatypes.Memory) (string, error)
	GetMemory(ctx context.Context, id string) (*datatypes.Memory, error)
	UpdateMemory(ctx context.Context, id string, u Update) error
	DeleteMemory(ctx context.Context, id string) error
	DeleteMemories(ctx context.Context, f MemoryFilter) (int64, error)
	ListMemories(ctx context.Context, f MemoryFilter, limit int) ([]datatypes.Memory, error)
	CountMemories(ctx context.Context, f MemoryFilter) (int64, error)

	// ForEachMemoryBatch streams an agent's memories to fn in batches of
	// batchSize. agentID == "" iterates every agent. fn returning an error
	// stops the iteration.
	ForEachMemoryBatch(ctx context.Context, agentID string, batchSize int, fn func([]datatypes.Memory) error) error

	BulkUpdateMemories(ctx context.Context, updates []MemoryUpdate) error

	// SearchByEmbedding ranks the agent's memories by cosine similarity to
	// vector, highest first. A stored embedding whose dimension differs from
	// the query's yields datatypes.ErrDimensionMismatch.
	SearchByEmbedding(ctx context.Context, agentID string, vector []float32, limit int, tags []string) ([]ScoredMemory, error)

	// DuplicateTextGroups groups memories by (agent, text) and returns the
	// groups with more than one member. agentID == "" spans all agents.
	DuplicateTextGroups(ctx context.Context, agentID string) ([]DuplicateGroup, error)

	ListAgentIDs(ctx context.Context) ([]string, error)

	// Entities.
	UpsertEntity(ctx context.Context, agentID, slug string, u Update) error
	GetEntity(ctx context.Context, agentID, slug string) (*datatypes.Entity, error)
	ListEntities(ctx context.Context, agentID string, opts EntityListOptions) ([]datatypes.Entity, int64, error)
	SearchEntities(ctx context.Context, agentID, query string, limit int) ([]datatypes.Entity, error)

	// Episodes.
	InsertEpisode(ctx context.Context, e *datatypes.Episode) (string, error)
	ListEpisodes(ctx context.Context, agentID string, limit int) ([]datatypes.Episode, error)

	// Pending edges.
	InsertPendingEdge(ctx context.Context, p *datatypes.PendingEdge) (string, error)
	ListPendingEdges(ctx context.Context, agentID string, minProbability float64, limit int) ([]datatypes.PendingEdge, error)
	DeletePendingEdge(ctx context.Context, id string) error
	DeletePendingEdgesByMemory(ctx context.Context, memoryID string) (int64, error)

	// Reflection jobs.
	InsertJob(ctx context.Context, j *datatypes.ReflectionJob) (string, error)
	GetJob(ctx context.Context, id string) (*datatypes.ReflectionJob, error)
	UpdateJob(ctx context.Context, id string, u Update) error

	// ClaimJob transitions a job from pending to running. It reports false
	// when the job was not in the pending state (another worker claimed it).
	ClaimJob(ctx context.Context, id string) (bool, error)

	// UpsertStageResult records a stage result atomically: an existing entry
	// with the same stage name is replaced in place, otherwise the result is
	// appended. Afterwards exactly one entry with that name exists.
	UpsertStageResult(ctx context.Context, jobID string, res datatypes.StageResult) error

	ListJobs(ctx context.Context, agentID string, limit int) ([]datatypes.ReflectionJob, error)
	ListPendingJobs(ctx context.Context, limit int) ([]datatypes.ReflectionJob, error)
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// matchesFilter reports whether a memory satisfies the filter. Shared by the
// in-memory implementation and the Mongo implementation's client-side paths.
func matchesFilter(m *datatypes.Memory, f MemoryFilter) bool {
	if f.AgentID != "" && m.AgentID != f.AgentID {
		return false
	}
	if f.Text != "" && m.Text != f.Text {
		return false
	}
	if f.CreatedBefore != nil && !m.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if m.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range m.Tags {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
