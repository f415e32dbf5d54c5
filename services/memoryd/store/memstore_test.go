// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

func newTestMemory(agentID, text string, embedding []float32) *datatypes.Memory {
	m := &datatypes.Memory{
		AgentID:   agentID,
		Text:      text,
		Embedding: embedding,
	}
	m.ApplyDefaults(time.Now().UTC())
	return m
}

func TestMemoryStore_InsertGetDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	id, err := s.InsertMemory(ctx, newTestMemory("agent-1", "prefers tabs", []float32{1, 0}))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "prefers tabs", got.Text)
	assert.Equal(t, datatypes.DefaultConfidence, got.Confidence)

	require.NoError(t, s.DeleteMemory(ctx, id))

	_, err = s.GetMemory(ctx, id)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMemory(ctx, id), datatypes.ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	id, err := s.InsertMemory(ctx, newTestMemory("agent-1", "original", []float32{1, 0}))
	require.NoError(t, err)

	first, err := s.GetMemory(ctx, id)
	require.NoError(t, err)
	first.Text = "mutated"
	first.Tags = append(first.Tags, "stray")

	second, err := s.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "original", second.Text)
	assert.Empty(t, second.Tags)
}

func TestMemoryStore_UpdateOperators(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	id, err := s.InsertMemory(ctx, newTestMemory("agent-1", "fact", []float32{1, 0}))
	require.NoError(t, err)

	now := time.Now().UTC()
	err = s.UpdateMemory(ctx, id, Update{
		Set: map[string]any{"confidence": 0.8, "updatedAt": now},
		Push: map[string]any{"edges": datatypes.Edge{
			Type:     datatypes.EdgeSupports,
			TargetID: "other",
			Weight:   0.7,
		}},
		Inc:      map[string]any{"reinforcementCount": 1},
		AddToSet: map[string]any{"tags": "preferences"},
	})
	require.NoError(t, err)

	got, err := s.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, 1, got.ReinforcementCount)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, datatypes.EdgeSupports, got.Edges[0].Type)
	assert.Equal(t, []string{"preferences"}, got.Tags)

	// addToSet must not duplicate.
	require.NoError(t, s.UpdateMemory(ctx, id, Update{AddToSet: map[string]any{"tags": "preferences"}}))
	got, err = s.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"preferences"}, got.Tags)

	err = s.UpdateMemory(ctx, id, Update{Set: map[string]any{"bogusField": 1}})
	assert.Error(t, err)
}

func TestMemoryStore_FilterAndCount(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	a := newTestMemory("agent-1", "uses vim", []float32{1, 0})
	a.Tags = []string{"tools"}
	_, err := s.InsertMemory(ctx, a)
	require.NoError(t, err)

	b := newTestMemory("agent-1", "likes go", []float32{0, 1})
	b.Tags = []string{"languages"}
	_, err = s.InsertMemory(ctx, b)
	require.NoError(t, err)

	_, err = s.InsertMemory(ctx, newTestMemory("agent-2", "other agent", []float32{1, 1}))
	require.NoError(t, err)

	byAgent, err := s.ListMemories(ctx, MemoryFilter{AgentID: "agent-1"}, 0)
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	byTag, err := s.ListMemories(ctx, MemoryFilter{AgentID: "agent-1", Tags: []string{"tools"}}, 0)
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "uses vim", byTag[0].Text)

	total, err := s.CountMemories(ctx, MemoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	deleted, err := s.DeleteMemories(ctx, MemoryFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestMemoryStore_SearchByEmbedding(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.InsertMemory(ctx, newTestMemory("agent-1", "east", []float32{1, 0}))
	require.NoError(t, err)
	_, err = s.InsertMemory(ctx, newTestMemory("agent-1", "north", []float32{0, 1}))
	require.NoError(t, err)

	hits, err := s.SearchByEmbedding(ctx, "agent-1", []float32{1, 0.1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].Memory.Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	_, err = s.SearchByEmbedding(ctx, "agent-1", []float32{1, 0, 0}, 10, nil)
	assert.ErrorIs(t, err, datatypes.ErrDimensionMismatch)
	assert.ErrorIs(t, err, datatypes.ErrInvalidInput)
}

func TestMemoryStore_ForEachMemoryBatch(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		m := newTestMemory("agent-1", "m", []float32{1, 0})
		m.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		_, err := s.InsertMemory(ctx, m)
		require.NoError(t, err)
	}

	var sizes []int
	err := s.ForEachMemoryBatch(ctx, "agent-1", 3, func(batch []datatypes.Memory) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)

	sentinel := errors.New("stop")
	calls := 0
	err = s.ForEachMemoryBatch(ctx, "agent-1", 3, func([]datatypes.Memory) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestMemoryStore_DuplicateTextGroups(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.InsertMemory(ctx, newTestMemory("agent-1", "same text", []float32{1, 0}))
		require.NoError(t, err)
	}
	_, err := s.InsertMemory(ctx, newTestMemory("agent-1", "unique text", []float32{1, 0}))
	require.NoError(t, err)
	// Same text under another agent must not join the group.
	_, err = s.InsertMemory(ctx, newTestMemory("agent-2", "same text", []float32{1, 0}))
	require.NoError(t, err)

	groups, err := s.DuplicateTextGroups(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "same text", groups[0].Text)
	assert.Len(t, groups[0].IDs, 3)
}

func TestMemoryStore_EntityUpsert(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.UpsertEntity(ctx, "agent-1", "alice", Update{
		Set:         map[string]any{"name": "Alice", "lastSeenAt": now, "updatedAt": now},
		Inc:         map[string]any{"memoryCount": 1},
		AddToSet:    map[string]any{"aliases": "al"},
		SetOnInsert: map[string]any{"createdAt": now, "entityType": "person"},
	})
	require.NoError(t, err)

	err = s.UpsertEntity(ctx, "agent-1", "alice", Update{
		Set:         map[string]any{"lastSeenAt": now.Add(time.Hour), "updatedAt": now.Add(time.Hour)},
		Inc:         map[string]any{"memoryCount": 2},
		SetOnInsert: map[string]any{"createdAt": now.Add(time.Hour)},
	})
	require.NoError(t, err)

	e, err := s.GetEntity(ctx, "agent-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", e.Name)
	assert.Equal(t, 3, e.MemoryCount)
	assert.Equal(t, "person", e.EntityType)
	assert.True(t, e.CreatedAt.Equal(now), "setOnInsert must not fire on update")
	assert.Equal(t, []string{"al"}, e.Aliases)

	_, err = s.GetEntity(ctx, "agent-1", "bob")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestMemoryStore_PendingEdges(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	mk := func(src, dst string, prob float64) {
		_, err := s.InsertPendingEdge(ctx, &datatypes.PendingEdge{
			AgentID:     "agent-1",
			SourceID:    src,
			TargetID:    dst,
			Type:        datatypes.EdgeSupports,
			Weight:      0.5,
			Probability: prob,
			CreatedAt:   time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	mk("m1", "m2", 0.9)
	mk("m2", "m3", 0.6)
	mk("m3", "m4", 0.3)

	edges, err := s.ListPendingEdges(ctx, "agent-1", 0.5, 0)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, 0.9, edges[0].Probability)

	n, err := s.DeletePendingEdgesByMemory(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStore_JobLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	job := &datatypes.ReflectionJob{
		AgentID:   "agent-1",
		Status:    datatypes.JobPending,
		CreatedAt: time.Now().UTC(),
		Stages:    []datatypes.StageResult{},
	}
	id, err := s.InsertJob(ctx, job)
	require.NoError(t, err)

	claimed, err := s.ClaimJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim must lose.
	claimed, err = s.ClaimJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestMemoryStore_StageResultUpsert(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	id, err := s.InsertJob(ctx, &datatypes.ReflectionJob{
		AgentID:   "agent-1",
		Status:    datatypes.JobRunning,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	start := time.Now().UTC()
	require.NoError(t, s.UpsertStageResult(ctx, id, datatypes.StageResult{
		Stage:     "extract",
		Status:    datatypes.StageRunning,
		StartedAt: start,
	}))
	done := start.Add(time.Second)
	require.NoError(t, s.UpsertStageResult(ctx, id, datatypes.StageResult{
		Stage:       "extract",
		Status:      datatypes.StageComplete,
		StartedAt:   start,
		CompletedAt: &done,
		Counts:      map[string]int{"extract_atoms": 2},
	}))

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Stages, 1, "same stage recorded twice must stay one entry")
	assert.Equal(t, datatypes.StageComplete, got.Stages[0].Status)
	assert.Equal(t, 2, got.Stages[0].Counts["extract_atoms"])

	assert.ErrorIs(t, s.UpsertStageResult(ctx, "missing", datatypes.StageResult{Stage: "extract"}), datatypes.ErrNotFound)
}

func TestMemoryStore_JobCleanup(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	mkJob := func(status datatypes.JobStatus, completed *time.Time) {
		_, err := s.InsertJob(ctx, &datatypes.ReflectionJob{
			AgentID:     "agent-1",
			Status:      status,
			CreatedAt:   now.Add(-41 * 24 * time.Hour),
			CompletedAt: completed,
		})
		require.NoError(t, err)
	}
	mkJob(datatypes.JobComplete, &old)
	mkJob(datatypes.JobFailed, &old)
	mkJob(datatypes.JobComplete, &recent)
	mkJob(datatypes.JobRunning, nil)

	cutoff := now.Add(-30 * 24 * time.Hour)
	n, err := s.DeleteTerminalJobsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.ListJobs(ctx, "agent-1", 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestMemoryStore_ListPendingJobsOldestFirst(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 3; i >= 1; i-- {
		_, err := s.InsertJob(ctx, &datatypes.ReflectionJob{
			ID:        string(rune('a' + i)),
			AgentID:   "agent-1",
			Status:    datatypes.JobPending,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	pending, err := s.ListPendingJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].CreatedAt.Before(pending[1].CreatedAt))
}
