// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// RememberRequest is the HTTP request body for POST /remember.
type RememberRequest struct {
	AgentID         string         `json:"agentId" binding:"required"`
	Text            string         `json:"text" binding:"required"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata"`
	TTLSeconds      int64          `json:"ttl"`
	MemoryType      MemoryType     `json:"memoryType"`
	Layer           Layer          `json:"layer"`
	Confidence      *float64       `json:"confidence"`
	SourceSessionID string         `json:"sourceSessionId"`
	SourceEpisodeID string         `json:"sourceEpisodeId"`
}

// RecallQuery is the query-string shape for GET /recall.
type RecallQuery struct {
	AgentID string   `form:"agentId" binding:"required"`
	Query   string   `form:"query" binding:"required"`
	Limit   int      `form:"limit"`
	Tags    []string `form:"tags"`
}

// RecallResult is one ranked hit returned by Recall.
type RecallResult struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Score     float64        `json:"score"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Retrieval methods reported by Recall for observability.
const (
	RetrievalVector   = "vector"
	RetrievalInMemory = "in_memory"
)

// ReflectRequest is the HTTP request body for POST /reflect.
type ReflectRequest struct {
	AgentID    string         `json:"agentId" binding:"required"`
	SessionID  string         `json:"sessionId"`
	Transcript string         `json:"transcript" binding:"required"`
	Metadata   map[string]any `json:"metadata"`
}

// PurgeRequest is the HTTP request body for POST /purge.
type PurgeRequest struct {
	AgentID   string    `json:"agentId" binding:"required"`
	OlderThan time.Time `json:"olderThan" binding:"required"`
}

// DeduplicateRequest is the HTTP request body for POST /deduplicate.
type DeduplicateRequest struct {
	AgentID string `json:"agentId"`
	DryRun  bool   `json:"dryRun"`
}

// DedupGroup describes one set of identical (agent, text) memories found by
// a global-dedup run.
type DedupGroup struct {
	AgentID string   `json:"agentId"`
	Text    string   `json:"text"`
	KeptID  string   `json:"keptId"`
	Removed []string `json:"removed"`
	Tags    []string `json:"tags"`
	DryRun  bool     `json:"dryRun"`
}

// EnhanceRequest is the HTTP request body for POST /contradictions/enhance.
type EnhanceRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	Limit   int    `json:"limit"`
}

// EntityListQuery is the query-string shape for GET /entities.
type EntityListQuery struct {
	AgentID string `form:"agentId" binding:"required"`
	Type    string `form:"type"`
	Limit   int    `form:"limit"`
	SortBy  string `form:"sortBy"`
}

// DecayStats summarizes one decay pass.
type DecayStats struct {
	TotalMemories        int           `json:"totalMemories"`
	Decayed              int           `json:"decayed"`
	ArchivalCandidates   int           `json:"archivalCandidates"`
	ExpirationCandidates int           `json:"expirationCandidates"`
	Duration             time.Duration `json:"-"`
	DurationMS           int64         `json:"duration"`
}
