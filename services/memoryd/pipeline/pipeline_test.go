// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memoryd/services/memoryd/conflict"
	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/embed"
	"github.com/openclaw/memoryd/services/memoryd/jobs"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// stubDetector returns canned findings keyed by probe text.
type stubDetector struct {
	byText map[string][]conflict.Finding
}

func (s stubDetector) Detect(ctx context.Context, agentID, text string, embedding []float32) ([]conflict.Finding, error) {
	return s.byText[text], nil
}

type testRig struct {
	store    *store.Memory
	embedder *embed.Mock
	queue    *jobs.Queue
	deps     Deps
}

func newRig(t *testing.T, detector conflict.Detector) *testRig {
	t.Helper()
	s := store.NewMemory()
	mock := embed.NewMock(64)
	if detector == nil {
		detector = conflict.NewHeuristic(s, slog.Default())
	}
	return &testRig{
		store:    s,
		embedder: mock,
		queue:    jobs.NewQueue(s),
		deps: Deps{
			Store:    s,
			Embedder: mock,
			Detector: detector,
			Logger:   slog.Default(),
		},
	}
}

func (r *testRig) remember(t *testing.T, agentID, text string) string {
	t.Helper()
	vecs, err := r.embedder.Embed(context.Background(), []string{text}, embed.RoleDocument)
	require.NoError(t, err)
	m := &datatypes.Memory{AgentID: agentID, Text: text, Embedding: vecs[0]}
	m.ApplyDefaults(time.Now().UTC())
	id, err := r.store.InsertMemory(context.Background(), m)
	require.NoError(t, err)
	return id
}

func (r *testRig) runJob(t *testing.T, agentID, sessionID, transcript string) *datatypes.ReflectionJob {
	t.Helper()
	ctx := context.Background()
	id, err := r.queue.Create(ctx, agentID, sessionID, map[string]any{
		datatypes.TranscriptMetadataKey: transcript,
	})
	require.NoError(t, err)
	claimed, err := r.queue.Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)

	job, err := r.queue.Get(ctx, id)
	require.NoError(t, err)

	exec := NewExecutor(r.queue, DefaultStages(r.deps), slog.Default(), time.Minute)
	_ = exec.Run(ctx, job)

	final, err := r.queue.Get(ctx, id)
	require.NoError(t, err)
	return final
}

func TestPipeline_EmptyTranscript(t *testing.T) {
	r := newRig(t, nil)
	job := r.runJob(t, "agent-1", "s1", "")

	assert.Equal(t, datatypes.JobComplete, job.Status)
	require.Len(t, job.Stages, len(StageOrder))
	for _, sr := range job.Stages {
		assert.Equal(t, datatypes.StageComplete, sr.Status, sr.Stage)
		for key, v := range sr.Counts {
			assert.Zero(t, v, "%s.%s", sr.Stage, key)
		}
	}
}

func TestPipeline_ContradictionReinforcesTheRightSide(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	m1 := r.remember(t, "A", "I will use PostgreSQL")

	transcript := "Switched to MongoDB today."
	r.deps.Detector = stubDetector{byText: map[string][]conflict.Finding{
		transcript[:len(transcript)-1]: {{
			Contradiction: datatypes.Contradiction{
				TargetID:    m1,
				DetectedAt:  time.Now().UTC(),
				Type:        datatypes.ContradictionDirect,
				Probability: 0.95,
				Severity:    datatypes.SeverityHigh,
			},
		}},
	}}

	job := r.runJob(t, "A", "s1", transcript)
	require.Equal(t, datatypes.JobComplete, job.Status)

	// Extracted decision atom carries confidence 0.8, a strong source.
	old, err := r.store.GetMemory(ctx, m1)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, old.Confidence, 1e-9)

	newOnes, err := r.store.ListMemories(ctx, store.MemoryFilter{AgentID: "A", Text: "Switched to MongoDB today"}, 0)
	require.NoError(t, err)
	require.Len(t, newOnes, 1)
	assert.Equal(t, 0.8, newOnes[0].Confidence)
	require.Len(t, newOnes[0].Contradictions, 1)
	assert.Equal(t, m1, newOnes[0].Contradictions[0].TargetID)

	var conflictStage *datatypes.StageResult
	for i := range job.Stages {
		if job.Stages[i].Stage == StageConflictCheck {
			conflictStage = &job.Stages[i]
		}
	}
	require.NotNil(t, conflictStage)
	assert.GreaterOrEqual(t, conflictStage.Counts["conflicts"], 1)
}

func TestPipeline_EpisodeCarriesParticipantsAndTopics(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	job := r.runJob(t, "agent-1", "s1",
		"We decided to use PostgreSQL for Atlas. Alice prefers dark mode.")
	require.Equal(t, datatypes.JobComplete, job.Status)

	eps, err := r.store.ListEpisodes(ctx, "agent-1", 0)
	require.NoError(t, err)
	require.Len(t, eps, 1)

	ep := eps[0]
	require.NotEmpty(t, ep.MemoryIDs)
	assert.ElementsMatch(t, []string{"postgresql", "atlas", "alice"}, ep.Participants)
	assert.ElementsMatch(t, []string{"decision", "preference"}, ep.Topics)
}

func TestPipeline_RerunDoesNotDuplicate(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	transcript := "The team decided to adopt MongoDB."

	first := r.runJob(t, "agent-1", "s1", transcript)
	require.Equal(t, datatypes.JobComplete, first.Status)
	count1, err := r.store.CountMemories(ctx, store.MemoryFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), count1)

	second := r.runJob(t, "agent-1", "s2", transcript)
	require.Equal(t, datatypes.JobComplete, second.Status)

	count2, err := r.store.CountMemories(ctx, store.MemoryFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count2, "rerun must not create a duplicate")

	all, err := r.store.ListMemories(ctx, store.MemoryFilter{AgentID: "agent-1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, all[0].ReinforcementCount, "restatement reinforces the original")
	assert.Greater(t, all[0].Confidence, 0.8)
}

func TestPipeline_StageFailureIsRecordedAndStopsTheRun(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	boom := errors.New("embedder down")
	stages := DefaultStages(r.deps)
	stages[2].Run = func(context.Context, *Context) error { return boom }

	id, err := r.queue.Create(ctx, "agent-1", "s1", map[string]any{
		datatypes.TranscriptMetadataKey: "The user prefers dark mode.",
	})
	require.NoError(t, err)
	claimed, err := r.queue.Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)
	job, err := r.queue.Get(ctx, id)
	require.NoError(t, err)

	exec := NewExecutor(r.queue, stages, slog.Default(), time.Minute)
	runErr := exec.Run(ctx, job)
	assert.ErrorIs(t, runErr, boom)

	final, err := r.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobFailed, final.Status)
	assert.Contains(t, final.Error, "embedder down")
	require.Len(t, final.Stages, 3, "later stages must never be recorded")
	assert.Equal(t, datatypes.StageComplete, final.Stages[0].Status)
	assert.Equal(t, datatypes.StageComplete, final.Stages[1].Status)
	assert.Equal(t, datatypes.StageFailed, final.Stages[2].Status)
	assert.Equal(t, "embedder down", final.Stages[2].Error)
	require.NotNil(t, final.Stages[2].CompletedAt)
}

func TestRunDecayPass_ArchivalThreshold(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	m := &datatypes.Memory{
		AgentID:          "agent-1",
		Text:             "old episodic detail",
		Embedding:        []float32{1, 0},
		Strength:         0.3,
		Confidence:       0.6,
		Layer:            datatypes.LayerEpisodic,
		MemoryType:       datatypes.TypeFact,
		CreatedAt:        time.Now().UTC().AddDate(0, 0, -31),
		UpdatedAt:        time.Now().UTC(),
		LastReinforcedAt: time.Now().UTC().AddDate(0, 0, -30),
	}
	id, err := s.InsertMemory(ctx, m)
	require.NoError(t, err)

	stats, err := RunDecayPass(ctx, s, "agent-1", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMemories)
	assert.Equal(t, 1, stats.Decayed)
	assert.Equal(t, 1, stats.ArchivalCandidates)
	assert.Equal(t, 0, stats.ExpirationCandidates)

	got, err := s.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.191, got.Strength, 0.001)
}

func TestRunDecayPass_EmptyStore(t *testing.T) {
	s := store.NewMemory()
	start := time.Now()
	stats, err := RunDecayPass(context.Background(), s, "agent-1", slog.Default())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMemories)
	assert.Zero(t, stats.Decayed)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRunDecayPass_TwoPassesEqualOneCombined(t *testing.T) {
	mk := func() (*store.Memory, string) {
		s := store.NewMemory()
		m := &datatypes.Memory{
			AgentID: "a", Text: "x", Embedding: []float32{1},
			Strength: 1.0, Confidence: 0.6,
			Layer: datatypes.LayerEpisodic, MemoryType: datatypes.TypeFact,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
			LastReinforcedAt: time.Now().UTC().AddDate(0, 0, -20),
		}
		id, err := s.InsertMemory(context.Background(), m)
		require.NoError(t, err)
		return s, id
	}

	// Two immediate passes: the second sees ~zero additional elapsed time,
	// so strengths must match a single pass.
	s1, id1 := mk()
	_, err := RunDecayPass(context.Background(), s1, "a", slog.Default())
	require.NoError(t, err)
	_, err = RunDecayPass(context.Background(), s1, "a", slog.Default())
	require.NoError(t, err)

	s2, id2 := mk()
	_, err = RunDecayPass(context.Background(), s2, "a", slog.Default())
	require.NoError(t, err)

	got1, err := s1.GetMemory(context.Background(), id1)
	require.NoError(t, err)
	got2, err := s2.GetMemory(context.Background(), id2)
	require.NoError(t, err)
	assert.InDelta(t, got2.Strength, got1.Strength, 1e-6)
}

func TestApplyPendingEdges_MissingTargetStillApplies(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	src := r.remember(t, "agent-1", "source memory")

	_, err := r.store.InsertPendingEdge(ctx, &datatypes.PendingEdge{
		AgentID: "agent-1", SourceID: src, TargetID: "forgotten-id",
		Type: datatypes.EdgeCoOccurs, Weight: 0.4, Probability: 0.9,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	applied, skipped, err := ApplyPendingEdges(ctx, r.store, "agent-1", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 0, skipped)

	m, err := r.store.GetMemory(ctx, src)
	require.NoError(t, err)
	require.Len(t, m.Edges, 1)
	assert.Equal(t, datatypes.EdgeCoOccurs, m.Edges[0].Type)

	left, err := r.store.ListPendingEdges(ctx, "agent-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestApplyPendingEdges_MissingSourceSkips(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	dst := r.remember(t, "agent-1", "target memory")

	_, err := r.store.InsertPendingEdge(ctx, &datatypes.PendingEdge{
		AgentID: "agent-1", SourceID: "gone", TargetID: dst,
		Type: datatypes.EdgeSupports, Weight: 0.5, Probability: 0.8,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	applied, skipped, err := ApplyPendingEdges(ctx, r.store, "agent-1", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Equal(t, 1, skipped)

	left, err := r.store.ListPendingEdges(ctx, "agent-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, left, "orphaned edge must be dropped")
}

func TestApplyPendingEdges_ReverseEdgeForCoOccurs(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	a := r.remember(t, "agent-1", "first half")
	b := r.remember(t, "agent-1", "second half")

	_, err := r.store.InsertPendingEdge(ctx, &datatypes.PendingEdge{
		AgentID: "agent-1", SourceID: a, TargetID: b,
		Type: datatypes.EdgeCoOccurs, Weight: 0.4, Probability: 0.7,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	applied, _, err := ApplyPendingEdges(ctx, r.store, "agent-1", slog.Default())
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	mb, err := r.store.GetMemory(ctx, b)
	require.NoError(t, err)
	require.Len(t, mb.Edges, 1)
	assert.Equal(t, a, mb.Edges[0].TargetID)
}

func TestApplyPendingEdges_BelowFloorStaysPending(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	src := r.remember(t, "agent-1", "source")

	_, err := r.store.InsertPendingEdge(ctx, &datatypes.PendingEdge{
		AgentID: "agent-1", SourceID: src, TargetID: "whatever",
		Type: datatypes.EdgeSupports, Weight: 0.3, Probability: 0.4,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	applied, skipped, err := ApplyPendingEdges(ctx, r.store, "agent-1", slog.Default())
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Zero(t, skipped)

	left, err := r.store.ListPendingEdges(ctx, "agent-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRunGlobalDedup_KeepsOldestMergesTags(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	mk := func(offset time.Duration, tags []string) string {
		m := &datatypes.Memory{
			AgentID: "agent-1", Text: "duplicate fact", Tags: tags,
			Embedding: []float32{1, 0}, Strength: 1, Confidence: 0.6,
			Layer: datatypes.LayerEpisodic, MemoryType: datatypes.TypeFact,
			CreatedAt: base.Add(offset), UpdatedAt: base.Add(offset),
			LastReinforcedAt: base.Add(offset),
		}
		id, err := s.InsertMemory(ctx, m)
		require.NoError(t, err)
		return id
	}
	oldest := mk(0, []string{"x"})
	mk(time.Minute, []string{"y"})
	mk(2*time.Minute, []string{"x", "z"})

	details, removed, err := RunGlobalDedup(ctx, s, "agent-1", false)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, 2, removed)
	assert.Equal(t, oldest, details[0].KeptID)

	kept, err := s.GetMemory(ctx, oldest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y", "z"}, kept.Tags)

	count, err := s.CountMemories(ctx, store.MemoryFilter{AgentID: "agent-1", Text: "duplicate fact"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunGlobalDedup_DryRunWritesNothing(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m := &datatypes.Memory{
			AgentID: "agent-1", Text: "twice", Embedding: []float32{1},
			Strength: 1, Confidence: 0.6,
			Layer: datatypes.LayerEpisodic, MemoryType: datatypes.TypeFact,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
			UpdatedAt: time.Now().UTC(), LastReinforcedAt: time.Now().UTC(),
		}
		_, err := s.InsertMemory(ctx, m)
		require.NoError(t, err)
	}

	details, removed, err := RunGlobalDedup(ctx, s, "agent-1", true)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, 1, removed)
	assert.True(t, details[0].DryRun)

	count, err := s.CountMemories(ctx, store.MemoryFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestContext_StatKeys(t *testing.T) {
	job := &datatypes.ReflectionJob{ID: "j1", AgentID: "a"}
	pc := NewContext(job)
	pc.AddStat(StageDecayPass, "decayed", 3)
	pc.AddStat(StageGraphApply, "applied", 2)
	pc.AddStat(StageGraphApply, "skipped", 1)

	assert.Equal(t, 3, pc.Stats["decay_pass_decayed"])
	assert.Equal(t, 2, pc.Stats["graph_apply_applied"])

	counts := pc.StageCounts(StageGraphApply)
	assert.Equal(t, map[string]int{"applied": 2, "skipped": 1}, counts)
	assert.Nil(t, pc.StageCounts(StageExtract))
}

func TestExtract_AtomCues(t *testing.T) {
	d := Deps{Logger: slog.Default()}
	pc := NewContext(&datatypes.ReflectionJob{AgentID: "a"})
	pc.Transcript = "We decided to adopt MongoDB. The user prefers dark mode. ok. Thanks!"

	require.NoError(t, d.extract(context.Background(), pc))
	require.Len(t, pc.ExtractedAtoms, 2)
	assert.Equal(t, datatypes.TypeDecision, pc.ExtractedAtoms[0].MemoryType)
	assert.Equal(t, 0.8, pc.ExtractedAtoms[0].Confidence)
	assert.Equal(t, datatypes.TypePreference, pc.ExtractedAtoms[1].MemoryType)
	assert.Equal(t, 2, pc.Stats["extract_atoms"])
}

func TestEntityMentions(t *testing.T) {
	mentions := extractMentions("Switched the Billing Service to MongoDB today")
	var slugs []string
	for _, m := range mentions {
		slugs = append(slugs, m.slug)
	}
	assert.Contains(t, slugs, "billing-service")
	assert.Contains(t, slugs, "mongodb")
	assert.NotContains(t, slugs, "switched")
}
