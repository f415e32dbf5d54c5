// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Memory is the in-memory Store implementation. It backs unit tests and
// mirrors the Mongo implementation's semantics, including the atomic
// stage-result upsert and dimension-mismatch errors on similarity search.
//
// Thread Safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	memories map[string]*datatypes.Memory
	entities map[string]*datatypes.Entity // key agentID + "\x00" + slug
	episodes map[string]*datatypes.Episode
	edges    map[string]*datatypes.PendingEdge
	jobs     map[string]*datatypes.ReflectionJob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		memories: make(map[string]*datatypes.Memory),
		entities: make(map[string]*datatypes.Entity),
		episodes: make(map[string]*datatypes.Episode),
		edges:    make(map[string]*datatypes.PendingEdge),
		jobs:     make(map[string]*datatypes.ReflectionJob),
	}
}

var _ Store = (*Memory)(nil)

// -----------------------------------------------------------------------------
// Memories
// -----------------------------------------------------------------------------

func (s *Memory) InsertMemory(ctx context.Context, m *datatypes.Memory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, exists := s.memories[m.ID]; exists {
		return "", fmt.Errorf("memstore: duplicate memory id %s", m.ID)
	}
	cp := cloneMemory(m)
	s.memories[m.ID] = &cp
	return m.ID, nil
}

func (s *Memory) GetMemory(ctx context.Context, id string) (*datatypes.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, datatypes.ErrNotFound
	}
	cp := cloneMemory(m)
	return &cp, nil
}

func (s *Memory) UpdateMemory(ctx context.Context, id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return datatypes.ErrNotFound
	}
	return applyMemoryUpdate(m, u)
}

func (s *Memory) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return datatypes.ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *Memory) DeleteMemories(ctx context.Context, f MemoryFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.memories {
		if matchesFilter(m, f) {
			delete(s.memories, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) ListMemories(ctx context.Context, f MemoryFilter, limit int) ([]datatypes.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.Memory
	for _, m := range s.memories {
		if matchesFilter(m, f) {
			out = append(out, cloneMemory(m))
		}
	}
	sortMemoriesByCreation(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) CountMemories(ctx context.Context, f MemoryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.memories {
		if matchesFilter(m, f) {
			n++
		}
	}
	return n, nil
}

func (s *Memory) ForEachMemoryBatch(ctx context.Context, agentID string, batchSize int, fn func([]datatypes.Memory) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	all, err := s.ListMemories(ctx, MemoryFilter{AgentID: agentID}, 0)
	if err != nil {
		return err
	}
	for start := 0; start < len(all); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Memory) BulkUpdateMemories(ctx context.Context, updates []MemoryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, up := range updates {
		m, ok := s.memories[up.ID]
		if !ok {
			continue // bulk updates skip vanished documents
		}
		if err := applyMemoryUpdate(m, up.Update); err != nil {
			return err
		}
	}
	return nil
}

func (s *Memory) SearchByEmbedding(ctx context.Context, agentID string, vector []float32, limit int, tags []string) ([]ScoredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := MemoryFilter{AgentID: agentID, Tags: tags}
	var hits []ScoredMemory
	for _, m := range s.memories {
		if !matchesFilter(m, f) {
			continue
		}
		score, err := cosineSim(vector, m.Embedding)
		if err != nil {
			return nil, err
		}
		hits = append(hits, ScoredMemory{Memory: cloneMemory(m), Score: score})
	}
	sortScored(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Memory) DuplicateTextGroups(ctx context.Context, agentID string) ([]DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := make(map[string]*DuplicateGroup)
	for _, m := range s.memories {
		if agentID != "" && m.AgentID != agentID {
			continue
		}
		key := m.AgentID + "\x00" + m.Text
		g, ok := byKey[key]
		if !ok {
			g = &DuplicateGroup{AgentID: m.AgentID, Text: m.Text}
			byKey[key] = g
		}
		g.IDs = append(g.IDs, m.ID)
	}
	var out []DuplicateGroup
	for _, g := range byKey {
		if len(g.IDs) > 1 {
			sort.Strings(g.IDs)
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].Text < out[j].Text
	})
	return out, nil
}

func (s *Memory) ListAgentIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, m := range s.memories {
		seen[m.AgentID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// -----------------------------------------------------------------------------
// Entities
// -----------------------------------------------------------------------------

func entityKey(agentID, slug string) string { return agentID + "\x00" + slug }

func (s *Memory) UpsertEntity(ctx context.Context, agentID, slug string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey(agentID, slug)
	e, ok := s.entities[key]
	if !ok {
		e = &datatypes.Entity{
			ID:      uuid.NewString(),
			AgentID: agentID,
			Slug:    slug,
		}
		applyEntitySetOnInsert(e, u)
		s.entities[key] = e
	}
	return applyEntityUpdate(e, u)
}

func (s *Memory) GetEntity(ctx context.Context, agentID, slug string) (*datatypes.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityKey(agentID, slug)]
	if !ok {
		return nil, datatypes.ErrNotFound
	}
	cp := cloneEntity(e)
	return &cp, nil
}

func (s *Memory) ListEntities(ctx context.Context, agentID string, opts EntityListOptions) ([]datatypes.Entity, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.Entity
	for _, e := range s.entities {
		if e.AgentID != agentID {
			continue
		}
		if opts.Type != "" && e.EntityType != opts.Type {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	total := int64(len(out))
	sortEntities(out, opts.SortBy)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, total, nil
}

func (s *Memory) SearchEntities(ctx context.Context, agentID, query string, limit int) ([]datatypes.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []datatypes.Entity
	for _, e := range s.entities {
		if e.AgentID != agentID {
			continue
		}
		if entityMatchesQuery(e, q) {
			out = append(out, cloneEntity(e))
		}
	}
	sortEntities(out, "memoryCount")
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func entityMatchesQuery(e *datatypes.Entity, q string) bool {
	if strings.Contains(strings.ToLower(e.Slug), q) || strings.Contains(strings.ToLower(e.Name), q) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Episodes
// -----------------------------------------------------------------------------

func (s *Memory) InsertEpisode(ctx context.Context, e *datatypes.Episode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	s.episodes[e.ID] = &cp
	return e.ID, nil
}

func (s *Memory) ListEpisodes(ctx context.Context, agentID string, limit int) ([]datatypes.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.Episode
	for _, e := range s.episodes {
		if e.AgentID == agentID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Pending edges
// -----------------------------------------------------------------------------

func (s *Memory) InsertPendingEdge(ctx context.Context, p *datatypes.PendingEdge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := *p
	s.edges[p.ID] = &cp
	return p.ID, nil
}

func (s *Memory) ListPendingEdges(ctx context.Context, agentID string, minProbability float64, limit int) ([]datatypes.PendingEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.PendingEdge
	for _, p := range s.edges {
		if agentID != "" && p.AgentID != agentID {
			continue
		}
		if p.Probability < minProbability {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) DeletePendingEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return datatypes.ErrNotFound
	}
	delete(s.edges, id)
	return nil
}

func (s *Memory) DeletePendingEdgesByMemory(ctx context.Context, memoryID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.edges {
		if p.SourceID == memoryID || p.TargetID == memoryID {
			delete(s.edges, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Reflection jobs
// -----------------------------------------------------------------------------

func (s *Memory) InsertJob(ctx context.Context, j *datatypes.ReflectionJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	cp := cloneJob(j)
	s.jobs[j.ID] = &cp
	return j.ID, nil
}

func (s *Memory) GetJob(ctx context.Context, id string) (*datatypes.ReflectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, datatypes.ErrNotFound
	}
	cp := cloneJob(j)
	return &cp, nil
}

func (s *Memory) UpdateJob(ctx context.Context, id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return datatypes.ErrNotFound
	}
	return applyJobUpdate(j, u)
}

func (s *Memory) ClaimJob(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != datatypes.JobPending {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = datatypes.JobRunning
	j.StartedAt = &now
	return true, nil
}

func (s *Memory) UpsertStageResult(ctx context.Context, jobID string, res datatypes.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return datatypes.ErrNotFound
	}
	for i := range j.Stages {
		if j.Stages[i].Stage == res.Stage {
			j.Stages[i] = res
			return nil
		}
	}
	j.Stages = append(j.Stages, res)
	return nil
}

func (s *Memory) ListJobs(ctx context.Context, agentID string, limit int) ([]datatypes.ReflectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.ReflectionJob
	for _, j := range s.jobs {
		if agentID != "" && j.AgentID != agentID {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) ListPendingJobs(ctx context.Context, limit int) ([]datatypes.ReflectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.ReflectionJob
	for _, j := range s.jobs {
		if j.Status == datatypes.JobPending {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) Close(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------
// Update application
// -----------------------------------------------------------------------------

// applyMemoryUpdate mutates a memory record field-by-field. Unknown field
// paths are an implementation bug, so they fail loudly rather than being
// dropped.
func applyMemoryUpdate(m *datatypes.Memory, u Update) error {
	for k, v := range u.Set {
		switch k {
		case "text":
			m.Text = v.(string)
		case "tags":
			m.Tags = toStringSlice(v)
		case "metadata":
			m.Metadata, _ = v.(map[string]any)
		case "confidence":
			m.Confidence = toFloat(v)
		case "strength":
			m.Strength = toFloat(v)
		case "layer":
			m.Layer = v.(datatypes.Layer)
		case "memoryType":
			m.MemoryType = v.(datatypes.MemoryType)
		case "updatedAt":
			m.UpdatedAt = v.(time.Time)
		case "lastReinforcedAt":
			m.LastReinforcedAt = v.(time.Time)
		case "decayedAt":
			t := v.(time.Time)
			m.DecayedAt = &t
		case "expiresAt":
			t := v.(time.Time)
			m.ExpiresAt = &t
		case "reinforcementCount":
			m.ReinforcementCount = int(toFloat(v))
		case "edges":
			m.Edges = v.([]datatypes.Edge)
		case "contradictions":
			m.Contradictions = v.([]datatypes.Contradiction)
		default:
			return fmt.Errorf("memstore: unsupported memory $set field %q", k)
		}
	}
	for k, v := range u.Push {
		switch k {
		case "edges":
			m.Edges = append(m.Edges, v.(datatypes.Edge))
		case "contradictions":
			m.Contradictions = append(m.Contradictions, v.(datatypes.Contradiction))
		default:
			return fmt.Errorf("memstore: unsupported memory $push field %q", k)
		}
	}
	for k, v := range u.Inc {
		switch k {
		case "reinforcementCount":
			m.ReinforcementCount += int(toFloat(v))
		default:
			return fmt.Errorf("memstore: unsupported memory $inc field %q", k)
		}
	}
	for k, v := range u.AddToSet {
		switch k {
		case "tags":
			m.Tags = addToSet(m.Tags, v)
		default:
			return fmt.Errorf("memstore: unsupported memory $addToSet field %q", k)
		}
	}
	return nil
}

func applyEntityUpdate(e *datatypes.Entity, u Update) error {
	for k, v := range u.Set {
		switch k {
		case "name":
			e.Name = v.(string)
		case "entityType":
			e.EntityType = v.(string)
		case "summary":
			e.Summary = v.(string)
		case "attributes":
			e.Attributes, _ = v.(map[string]any)
		case "lastSeenAt":
			e.LastSeenAt = v.(time.Time)
		case "updatedAt":
			e.UpdatedAt = v.(time.Time)
		default:
			return fmt.Errorf("memstore: unsupported entity $set field %q", k)
		}
	}
	for k, v := range u.Inc {
		switch k {
		case "memoryCount":
			e.MemoryCount += int(toFloat(v))
		default:
			return fmt.Errorf("memstore: unsupported entity $inc field %q", k)
		}
	}
	for k, v := range u.AddToSet {
		switch k {
		case "aliases":
			e.Aliases = addToSet(e.Aliases, v)
		default:
			return fmt.Errorf("memstore: unsupported entity $addToSet field %q", k)
		}
	}
	return nil
}

func applyEntitySetOnInsert(e *datatypes.Entity, u Update) {
	for k, v := range u.SetOnInsert {
		switch k {
		case "createdAt":
			e.CreatedAt = v.(time.Time)
		case "entityType":
			e.EntityType = v.(string)
		}
	}
}

func applyJobUpdate(j *datatypes.ReflectionJob, u Update) error {
	for k, v := range u.Set {
		switch k {
		case "status":
			j.Status = v.(datatypes.JobStatus)
		case "error":
			j.Error = v.(string)
		case "startedAt":
			t := v.(time.Time)
			j.StartedAt = &t
		case "completedAt":
			t := v.(time.Time)
			j.CompletedAt = &t
		default:
			return fmt.Errorf("memstore: unsupported job $set field %q", k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func cloneMemory(m *datatypes.Memory) datatypes.Memory {
	cp := *m
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	if m.DecayedAt != nil {
		t := *m.DecayedAt
		cp.DecayedAt = &t
	}
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Embedding = append([]float32(nil), m.Embedding...)
	cp.Edges = append([]datatypes.Edge(nil), m.Edges...)
	cp.Contradictions = append([]datatypes.Contradiction(nil), m.Contradictions...)
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func cloneEntity(e *datatypes.Entity) datatypes.Entity {
	cp := *e
	cp.Aliases = append([]string(nil), e.Aliases...)
	return cp
}

func cloneJob(j *datatypes.ReflectionJob) datatypes.ReflectionJob {
	cp := *j
	cp.Stages = append([]datatypes.StageResult(nil), j.Stages...)
	if j.Metadata != nil {
		cp.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func sortMemoriesByCreation(ms []datatypes.Memory) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func sortScored(hits []ScoredMemory) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Memory.CreatedAt.Equal(hits[j].Memory.CreatedAt) {
			return hits[i].Memory.CreatedAt.Before(hits[j].Memory.CreatedAt)
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
}

func sortEntities(es []datatypes.Entity, sortBy string) {
	sort.Slice(es, func(i, j int) bool {
		switch sortBy {
		case "lastSeenAt":
			return es[i].LastSeenAt.After(es[j].LastSeenAt)
		case "name":
			return es[i].Name < es[j].Name
		default:
			if es[i].MemoryCount != es[j].MemoryCount {
				return es[i].MemoryCount > es[j].MemoryCount
			}
			return es[i].Slug < es[j].Slug
		}
	})
}

// cosineSim computes cosine similarity, erroring on dimension mismatch.
func cosineSim(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, datatypes.ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func addToSet(set []string, v any) []string {
	add := func(s string) {
		for _, have := range set {
			if have == s {
				return
			}
		}
		set = append(set, s)
	}
	switch val := v.(type) {
	case string:
		add(val)
	case []string:
		for _, s := range val {
			add(s)
		}
	}
	return set
}
