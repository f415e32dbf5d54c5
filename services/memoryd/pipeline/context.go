// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the ten-stage reflection pipeline: extraction
// of candidate memories from a session transcript, deduplication, conflict
// checking, classification and persistence, confidence maintenance, decay,
// entity upkeep, and graph materialization.
package pipeline

import (
	"strings"
	"sync"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Context is the mutable state threaded through one pipeline run. Stages
// read the artifacts of their predecessors and append their own; slices stay
// nil until the producing stage has run.
type Context struct {
	JobID     string
	AgentID   string
	SessionID string

	// Transcript is the raw session content the extract stage consumes.
	Transcript string

	ExtractedAtoms    []*datatypes.CandidateMemory
	DeduplicatedAtoms []*datatypes.CandidateMemory

	// ClassifiedAtoms carry MemoryID once classify has persisted them.
	ClassifiedAtoms []*datatypes.CandidateMemory

	// Stats accumulates per-stage counters under prefixed keys, e.g.
	// decay_pass_decayed.
	Stats map[string]int

	Usage *UsageTracker
}

// NewContext initializes a run context from a claimed job.
func NewContext(job *datatypes.ReflectionJob) *Context {
	return &Context{
		JobID:      job.ID,
		AgentID:    job.AgentID,
		SessionID:  job.SessionID,
		Transcript: job.Transcript(),
		Stats:      make(map[string]int),
		Usage:      &UsageTracker{},
	}
}

// AddStat adds delta under the stage-prefixed key. Hyphens in stage names
// become underscores so keys stay flat identifiers.
func (c *Context) AddStat(stage, key string, delta int) {
	c.Stats[StatKey(stage, key)] += delta
}

// StageCounts extracts the counters a stage wrote, with the stage prefix
// stripped. Returns nil when the stage wrote nothing.
func (c *Context) StageCounts(stage string) map[string]int {
	prefix := strings.ReplaceAll(stage, "-", "_") + "_"
	var out map[string]int
	for k, v := range c.Stats {
		if strings.HasPrefix(k, prefix) {
			if out == nil {
				out = make(map[string]int)
			}
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

// StatKey builds the flat stats key for a stage counter.
func StatKey(stage, key string) string {
	return strings.ReplaceAll(stage, "-", "_") + "_" + key
}

// UsageTracker tallies provider usage over one run.
type UsageTracker struct {
	mu            sync.Mutex
	EmbedderCalls int
	EmbeddedTexts int
	LLMCalls      int
}

// CountEmbedding records one embedder call covering n texts.
func (u *UsageTracker) CountEmbedding(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.EmbedderCalls++
	u.EmbeddedTexts += n
}

// CountLLM records one LLM call.
func (u *UsageTracker) CountLLM() {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.LLMCalls++
}

// Snapshot returns the tallies without holding the lock afterwards.
func (u *UsageTracker) Snapshot() (embedderCalls, embeddedTexts, llmCalls int) {
	if u == nil {
		return 0, 0, 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.EmbedderCalls, u.EmbeddedTexts, u.LLMCalls
}
