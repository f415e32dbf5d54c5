// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package core is the synchronous facade the HTTP layer calls into:
// remember, recall, lifecycle operations, and the entry points that hand
// work to the background pipeline.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/embed"
	"github.com/openclaw/memoryd/services/memoryd/jobs"
	"github.com/openclaw/memoryd/services/memoryd/llmclient"
	"github.com/openclaw/memoryd/services/memoryd/observability"
	"github.com/openclaw/memoryd/services/memoryd/pipeline"
	"github.com/openclaw/memoryd/services/memoryd/reliability"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// Recall defaults and caps.
const (
	DefaultRecallLimit = 10
	MaxRecallLimit     = 100

	// DefaultEnhanceLimit and MaxEnhanceLimit bound one enhancement run.
	DefaultEnhanceLimit = 10
	MaxEnhanceLimit     = 50
)

// Service wires the store, the embedder, the job queue, and the optional
// explainer into the daemon's synchronous operations.
type Service struct {
	store     store.Store
	embedder  embed.Embedder
	queue     *jobs.Queue
	explainer llmclient.Explainer
	logger    *slog.Logger
	startedAt time.Time
	version   string
}

// NewService creates the facade. explainer may be nil; contradiction
// enhancement then reports zero enhanced.
func NewService(st store.Store, emb embed.Embedder, queue *jobs.Queue, explainer llmclient.Explainer, version string, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		embedder:  emb,
		queue:     queue,
		explainer: explainer,
		logger:    logger,
		startedAt: time.Now().UTC(),
		version:   version,
	}
}

// -----------------------------------------------------------------------------
// Remember / Recall / Forget
// -----------------------------------------------------------------------------

// Remember embeds and persists one memory, applying the creation defaults,
// and returns its ID.
func (s *Service) Remember(ctx context.Context, req datatypes.RememberRequest) (string, error) {
	now := time.Now().UTC()
	m := &datatypes.Memory{
		AgentID:         req.AgentID,
		ProjectID:       "",
		SourceSessionID: req.SourceSessionID,
		SourceEpisodeID: req.SourceEpisodeID,
		Text:            strings.TrimSpace(req.Text),
		Tags:            req.Tags,
		Metadata:        req.Metadata,
		MemoryType:      req.MemoryType,
		Layer:           req.Layer,
	}
	if req.Confidence != nil {
		m.Confidence = *req.Confidence
	}
	if req.TTLSeconds > 0 {
		exp := now.Add(time.Duration(req.TTLSeconds) * time.Second)
		m.ExpiresAt = &exp
	}
	m.ApplyDefaults(now)
	if err := m.Validate(0); err != nil {
		return "", err
	}

	vecs, err := s.embedder.Embed(ctx, []string{m.Text}, embed.RoleDocument)
	if err != nil {
		return "", err
	}
	m.Embedding = vecs[0]

	id, err := s.store.InsertMemory(ctx, m)
	if err != nil {
		return "", err
	}
	observability.MemoryOps.WithLabelValues("remembered").Inc()
	s.logger.Debug("Memory stored", "agentID", m.AgentID, "memoryID", id, "layer", m.Layer)
	return id, nil
}

// Recall retrieves the agent's memories ranked by similarity to the query.
// When the embedder or the store's vector path is unavailable it degrades to
// an in-process keyword scan and reports the method it took. A dimension
// mismatch is a caller error and does not degrade.
func (s *Service) Recall(ctx context.Context, q datatypes.RecallQuery) ([]datatypes.RecallResult, string, error) {
	if q.AgentID == "" {
		return nil, "", datatypes.ErrEmptyAgentID
	}
	if strings.TrimSpace(q.Query) == "" {
		return nil, "", fmt.Errorf("query cannot be empty: %w", datatypes.ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	if limit > MaxRecallLimit {
		limit = MaxRecallLimit
	}

	vecs, err := s.embedder.Embed(ctx, []string{q.Query}, embed.RoleQuery)
	if err != nil {
		s.logger.Warn("Recall embedding failed, degrading to keyword scan", "agentID", q.AgentID, "error", err)
		results, ferr := s.keywordRecall(ctx, q, limit)
		if ferr != nil {
			return nil, "", ferr
		}
		observability.RecallMethod.WithLabelValues(datatypes.RetrievalInMemory).Inc()
		return results, datatypes.RetrievalInMemory, nil
	}

	hits, err := s.store.SearchByEmbedding(ctx, q.AgentID, vecs[0], limit, q.Tags)
	if err != nil {
		if errors.Is(err, datatypes.ErrInvalidInput) {
			return nil, "", err
		}
		s.logger.Warn("Vector retrieval failed, degrading to keyword scan", "agentID", q.AgentID, "error", err)
		results, ferr := s.keywordRecall(ctx, q, limit)
		if ferr != nil {
			return nil, "", ferr
		}
		observability.RecallMethod.WithLabelValues(datatypes.RetrievalInMemory).Inc()
		return results, datatypes.RetrievalInMemory, nil
	}

	results := make([]datatypes.RecallResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, datatypes.RecallResult{
			ID:        h.Memory.ID,
			Text:      h.Memory.Text,
			Score:     h.Score,
			Tags:      h.Memory.Tags,
			Metadata:  h.Memory.Metadata,
			CreatedAt: h.Memory.CreatedAt,
		})
	}
	observability.RecallMethod.WithLabelValues(datatypes.RetrievalVector).Inc()
	return results, datatypes.RetrievalVector, nil
}

// keywordRecall is the degraded path: token-overlap scoring over a plain
// listing, honoring the tag filter.
func (s *Service) keywordRecall(ctx context.Context, q datatypes.RecallQuery, limit int) ([]datatypes.RecallResult, error) {
	memories, err := s.store.ListMemories(ctx, store.MemoryFilter{AgentID: q.AgentID, Tags: q.Tags}, 0)
	if err != nil {
		return nil, err
	}
	queryTokens := tokenSet(q.Query)

	var results []datatypes.RecallResult
	for _, m := range memories {
		score := overlapScore(queryTokens, tokenSet(m.Text))
		if score <= 0 {
			continue
		}
		results = append(results, datatypes.RecallResult{
			ID:        m.ID,
			Text:      m.Text,
			Score:     score,
			Tags:      m.Tags,
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func tokenSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		out[strings.Trim(tok, ".,;:!?\"'")] = true
	}
	delete(out, "")
	return out
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for tok := range query {
		if doc[tok] {
			n++
		}
	}
	return float64(n) / float64(len(query))
}

// Forget deletes a memory and every pending edge touching it.
func (s *Service) Forget(ctx context.Context, id string) error {
	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if _, err := s.store.DeletePendingEdgesByMemory(ctx, id); err != nil {
		s.logger.Warn("Pending edge cleanup after forget failed", "memoryID", id, "error", err)
	}
	observability.MemoryOps.WithLabelValues("forgotten").Inc()
	return nil
}

// -----------------------------------------------------------------------------
// Reflection and decay triggers
// -----------------------------------------------------------------------------

// TriggerReflection enqueues a reflection job with the transcript stashed in
// job metadata and returns the job ID.
func (s *Service) TriggerReflection(ctx context.Context, req datatypes.ReflectRequest) (string, error) {
	if req.AgentID == "" {
		return "", datatypes.ErrEmptyAgentID
	}
	meta := map[string]any{datatypes.TranscriptMetadataKey: req.Transcript}
	for k, v := range req.Metadata {
		if k != datatypes.TranscriptMetadataKey {
			meta[k] = v
		}
	}
	jobID, err := s.queue.Create(ctx, req.AgentID, req.SessionID, meta)
	if err != nil {
		return "", err
	}
	s.logger.Info("Reflection job enqueued", "jobID", jobID, "agentID", req.AgentID, "sessionID", req.SessionID)
	return jobID, nil
}

// TriggerDecay runs a decay pass synchronously over one agent, or all when
// agentID is empty.
func (s *Service) TriggerDecay(ctx context.Context, agentID string) (datatypes.DecayStats, error) {
	return pipeline.RunDecayPass(ctx, s.store, agentID, s.logger)
}

// GetJob returns a reflection job by ID.
func (s *Service) GetJob(ctx context.Context, jobID string) (*datatypes.ReflectionJob, error) {
	return s.queue.Get(ctx, jobID)
}

// ListJobs returns the agent's jobs most-recent-first.
func (s *Service) ListJobs(ctx context.Context, agentID string, limit int) ([]datatypes.ReflectionJob, error) {
	if agentID == "" {
		return nil, datatypes.ErrEmptyAgentID
	}
	return s.queue.ListJobs(ctx, agentID, limit)
}

// -----------------------------------------------------------------------------
// Bulk lifecycle
// -----------------------------------------------------------------------------

// Export returns every memory of the agent, oldest first.
func (s *Service) Export(ctx context.Context, agentID string) ([]datatypes.Memory, error) {
	if agentID == "" {
		return nil, datatypes.ErrEmptyAgentID
	}
	return s.store.ListMemories(ctx, store.MemoryFilter{AgentID: agentID}, 0)
}

// Purge deletes the agent's memories created before the cutoff.
func (s *Service) Purge(ctx context.Context, agentID string, olderThan time.Time) (int64, error) {
	if agentID == "" {
		return 0, datatypes.ErrEmptyAgentID
	}
	if olderThan.IsZero() {
		return 0, fmt.Errorf("olderThan must be set: %w", datatypes.ErrInvalidInput)
	}
	n, err := s.store.DeleteMemories(ctx, store.MemoryFilter{AgentID: agentID, CreatedBefore: &olderThan})
	if err != nil {
		return 0, err
	}
	observability.MemoryOps.WithLabelValues("purged").Add(float64(n))
	return n, nil
}

// Clear deletes every memory of the agent.
func (s *Service) Clear(ctx context.Context, agentID string) (int64, error) {
	if agentID == "" {
		return 0, datatypes.ErrEmptyAgentID
	}
	n, err := s.store.DeleteMemories(ctx, store.MemoryFilter{AgentID: agentID})
	if err != nil {
		return 0, err
	}
	observability.MemoryOps.WithLabelValues("cleared").Add(float64(n))
	return n, nil
}

// Deduplicate runs the global text-dedup pass, optionally as a dry run.
func (s *Service) Deduplicate(ctx context.Context, agentID string, dryRun bool) ([]datatypes.DedupGroup, int, error) {
	return pipeline.RunGlobalDedup(ctx, s.store, agentID, dryRun)
}

// ExpirationCandidates lists the agent's memories below the expiration
// strength threshold.
func (s *Service) ExpirationCandidates(ctx context.Context, agentID string) ([]datatypes.Memory, error) {
	if agentID == "" {
		return nil, datatypes.ErrEmptyAgentID
	}
	all, err := s.store.ListMemories(ctx, store.MemoryFilter{AgentID: agentID}, 0)
	if err != nil {
		return nil, err
	}
	var out []datatypes.Memory
	for _, m := range all {
		if reliability.IsExpirationCandidate(m.Strength) {
			out = append(out, m)
		}
	}
	return out, nil
}

// PromoteArchival moves a memory into the archival layer, where it decays an
// order of magnitude slower.
func (s *Service) PromoteArchival(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.store.UpdateMemory(ctx, id, store.Update{
		Set: map[string]any{
			"layer":     datatypes.LayerArchival,
			"updatedAt": now,
		},
	})
}

// -----------------------------------------------------------------------------
// Contradictions
// -----------------------------------------------------------------------------

// MemoryWithContradictions is a memory plus the resolved text of each
// contradiction target.
type MemoryWithContradictions struct {
	Memory         datatypes.Memory      `json:"memory"`
	Contradictions []ContradictionDetail `json:"contradictions"`
}

// ContradictionDetail enriches a stored contradiction with its target's
// current text, when the target still exists.
type ContradictionDetail struct {
	datatypes.Contradiction
	TargetText string `json:"targetText,omitempty"`
}

// GetMemoryWithContradictions loads a memory and resolves each
// contradiction target's text.
func (s *Service) GetMemoryWithContradictions(ctx context.Context, memoryID string) (*MemoryWithContradictions, error) {
	m, err := s.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	out := &MemoryWithContradictions{Memory: *m, Contradictions: []ContradictionDetail{}}
	for _, c := range m.Contradictions {
		detail := ContradictionDetail{Contradiction: c}
		if target, err := s.store.GetMemory(ctx, c.TargetID); err == nil {
			detail.TargetText = target.Text
		}
		out.Contradictions = append(out.Contradictions, detail)
	}
	return out, nil
}

// EnhanceContradictions asks the explainer to fill in explanations for the
// agent's unexplained contradictions, up to limit. Explainer failures skip
// the entry; the call reports how many entries were actually enhanced.
func (s *Service) EnhanceContradictions(ctx context.Context, agentID string, limit int) (int, error) {
	if agentID == "" {
		return 0, datatypes.ErrEmptyAgentID
	}
	if limit <= 0 {
		limit = DefaultEnhanceLimit
	}
	if limit > MaxEnhanceLimit {
		limit = MaxEnhanceLimit
	}

	memories, err := s.store.ListMemories(ctx, store.MemoryFilter{AgentID: agentID}, 0)
	if err != nil {
		return 0, err
	}

	enhanced := 0
	now := time.Now().UTC()
	for _, m := range memories {
		if enhanced >= limit {
			break
		}
		changed := false
		for i := range m.Contradictions {
			if enhanced >= limit {
				break
			}
			c := &m.Contradictions[i]
			if c.Explanation != "" || c.Resolved {
				continue
			}
			target, err := s.store.GetMemory(ctx, c.TargetID)
			if err != nil {
				continue
			}
			verdict, err := s.explain(ctx, m.Text, target.Text)
			if err != nil {
				s.logger.Warn("Contradiction enhancement skipped", "memoryID", m.ID, "error", err)
				continue
			}
			c.Explanation = verdict.Explanation
			c.Severity = verdict.Severity
			changed = true
			enhanced++
		}
		if changed {
			err := s.store.UpdateMemory(ctx, m.ID, store.Update{
				Set: map[string]any{"contradictions": m.Contradictions, "updatedAt": now},
			})
			if err != nil {
				return enhanced, err
			}
		}
	}
	return enhanced, nil
}

func (s *Service) explain(ctx context.Context, newer, older string) (llmclient.Explanation, error) {
	if s.explainer == nil {
		return llmclient.Explanation{}, fmt.Errorf("explainer disabled: %w", datatypes.ErrLLMFailed)
	}
	return s.explainer.ExplainContradiction(ctx, newer, older)
}

// -----------------------------------------------------------------------------
// Entities and episodes
// -----------------------------------------------------------------------------

// ListEntities returns the agent's entity hubs plus the unfiltered total.
func (s *Service) ListEntities(ctx context.Context, q datatypes.EntityListQuery) ([]datatypes.Entity, int64, error) {
	if q.AgentID == "" {
		return nil, 0, datatypes.ErrEmptyAgentID
	}
	return s.store.ListEntities(ctx, q.AgentID, store.EntityListOptions{
		Type:   q.Type,
		Limit:  q.Limit,
		SortBy: q.SortBy,
	})
}

// EntityWithMemories is an entity hub plus the memories linked to it.
type EntityWithMemories struct {
	Entity         datatypes.Entity   `json:"entity"`
	LinkedMemories []datatypes.Memory `json:"linkedMemories"`
}

// GetEntity loads an entity and the memories carrying a MENTIONS_ENTITY
// edge to it.
func (s *Service) GetEntity(ctx context.Context, agentID, slug string) (*EntityWithMemories, error) {
	if agentID == "" {
		return nil, datatypes.ErrEmptyAgentID
	}
	e, err := s.store.GetEntity(ctx, agentID, slug)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListMemories(ctx, store.MemoryFilter{AgentID: agentID}, 0)
	if err != nil {
		return nil, err
	}
	linked := []datatypes.Memory{}
	for _, m := range all {
		for _, edge := range m.Edges {
			if edge.Type == datatypes.EdgeMentionsEntity && edge.TargetID == slug {
				linked = append(linked, m)
				break
			}
		}
	}
	return &EntityWithMemories{Entity: *e, LinkedMemories: linked}, nil
}

// SearchEntities matches slug, name, and aliases against the query.
func (s *Service) SearchEntities(ctx context.Context, agentID, query string, limit int) ([]datatypes.Entity, error) {
	if agentID == "" {
		return nil, datatypes.ErrEmptyAgentID
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("q cannot be empty: %w", datatypes.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.SearchEntities(ctx, agentID, query, limit)
}

// ListEpisodes returns the agent's episodes, newest first.
func (s *Service) ListEpisodes(ctx context.Context, agentID string, limit int) ([]datatypes.Episode, error) {
	if agentID == "" {
		return nil, datatypes.ErrEmptyAgentID
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListEpisodes(ctx, agentID, limit)
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// StatusReport is the GET /status payload.
type StatusReport struct {
	Status         string `json:"status"`
	Version        string `json:"version,omitempty"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	TotalMemories  int64  `json:"totalMemories"`
	TotalAgents    int    `json:"totalAgents"`
	PendingJobs    int    `json:"pendingJobs"`
	StoreConnected bool   `json:"storeConnected"`
	EmbedderMode   string `json:"embedderMode"`
}

// Status reports daemon health depth: store reachability, corpus size, and
// queue backlog.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		EmbedderMode:  s.embedder.Mode(),
	}
	if err := s.store.Ping(ctx); err != nil {
		report.Status = "degraded"
		return report, nil
	}
	report.StoreConnected = true

	total, err := s.store.CountMemories(ctx, store.MemoryFilter{})
	if err != nil {
		return report, err
	}
	report.TotalMemories = total

	agents, err := s.store.ListAgentIDs(ctx)
	if err != nil {
		return report, err
	}
	report.TotalAgents = len(agents)

	pending, err := s.queue.GetPending(ctx, 100)
	if err != nil {
		return report, err
	}
	report.PendingJobs = len(pending)
	return report, nil
}
