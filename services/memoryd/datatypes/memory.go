// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the persistent records and wire types of the
// memory daemon: memory records, graph edges, contradictions, entities,
// episodes, reflection jobs, and the request/response shapes of the HTTP
// surface.
package datatypes

import (
	"time"
)

// Layer is the memory tier determining decay rate and retention policy.
type Layer string

const (
	LayerWorking  Layer = "working"
	LayerEpisodic Layer = "episodic"
	LayerSemantic Layer = "semantic"
	LayerArchival Layer = "archival"
)

// ValidLayers is the set of valid memory layers.
var ValidLayers = map[Layer]bool{
	LayerWorking:  true,
	LayerEpisodic: true,
	LayerSemantic: true,
	LayerArchival: true,
}

// MemoryType categorizes what kind of knowledge a memory holds.
type MemoryType string

const (
	TypeFact        MemoryType = "fact"
	TypePreference  MemoryType = "preference"
	TypeDecision    MemoryType = "decision"
	TypeObservation MemoryType = "observation"
	TypeEpisode     MemoryType = "episode"
	TypeOpinion     MemoryType = "opinion"
)

// ValidMemoryTypes is the set of valid memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	TypeFact:        true,
	TypePreference:  true,
	TypeDecision:    true,
	TypeObservation: true,
	TypeEpisode:     true,
	TypeOpinion:     true,
}

// EdgeType identifies the relation a graph edge expresses.
type EdgeType string

const (
	EdgePrecedes       EdgeType = "PRECEDES"
	EdgeCauses         EdgeType = "CAUSES"
	EdgeSupports       EdgeType = "SUPPORTS"
	EdgeContradicts    EdgeType = "CONTRADICTS"
	EdgeDerivesFrom    EdgeType = "DERIVES_FROM"
	EdgeSupersedes     EdgeType = "SUPERSEDES"
	EdgeMentionsEntity EdgeType = "MENTIONS_ENTITY"
	EdgeCoOccurs       EdgeType = "CO_OCCURS"
	EdgeContextOf      EdgeType = "CONTEXT_OF"
)

// ValidEdgeTypes is the set of valid edge types.
var ValidEdgeTypes = map[EdgeType]bool{
	EdgePrecedes:       true,
	EdgeCauses:         true,
	EdgeSupports:       true,
	EdgeContradicts:    true,
	EdgeDerivesFrom:    true,
	EdgeSupersedes:     true,
	EdgeMentionsEntity: true,
	EdgeCoOccurs:       true,
	EdgeContextOf:      true,
}

// Edge is a graph link embedded in a memory record. TargetID is a memory ID,
// or an entity slug when Type is MENTIONS_ENTITY.
type Edge struct {
	Type      EdgeType       `bson:"type" json:"type"`
	TargetID  string         `bson:"targetId" json:"targetId"`
	Weight    float64        `bson:"weight" json:"weight"`
	CreatedAt time.Time      `bson:"createdAt" json:"createdAt"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// ContradictionType classifies how two memories conflict.
type ContradictionType string

const (
	ContradictionDirect     ContradictionType = "direct"
	ContradictionContextual ContradictionType = "context-dependent"
	ContradictionTemporal   ContradictionType = "temporal"
	ContradictionPreference ContradictionType = "preference"
)

// Severity grades a contradiction for the explainer output.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Contradiction is embedded in a memory record and references the memory it
// conflicts with by ID only; no in-memory cycles.
type Contradiction struct {
	TargetID    string            `bson:"targetId" json:"targetId"`
	DetectedAt  time.Time         `bson:"detectedAt" json:"detectedAt"`
	Type        ContradictionType `bson:"type" json:"type"`
	Explanation string            `bson:"explanation,omitempty" json:"explanation,omitempty"`
	Probability float64           `bson:"probability" json:"probability"`
	Severity    Severity          `bson:"severity,omitempty" json:"severity,omitempty"`
	Resolved    bool              `bson:"resolved,omitempty" json:"resolved,omitempty"`
	Resolution  string            `bson:"resolution,omitempty" json:"resolution,omitempty"`
}

// Memory is the primary record: a semantically embedded piece of text owned
// by an agent, carrying reliability scores maintained by the reflection
// pipeline.
type Memory struct {
	ID              string `bson:"_id,omitempty" json:"id"`
	AgentID         string `bson:"agentId" json:"agentId"`
	ProjectID       string `bson:"projectId,omitempty" json:"projectId,omitempty"`
	SourceSessionID string `bson:"sourceSessionId,omitempty" json:"sourceSessionId,omitempty"`
	SourceEpisodeID string `bson:"sourceEpisodeId,omitempty" json:"sourceEpisodeId,omitempty"`

	Text     string         `bson:"text" json:"text"`
	Tags     []string       `bson:"tags" json:"tags"`
	Metadata map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`

	// Embedding has the deployment's fixed dimension.
	Embedding []float32 `bson:"embedding" json:"-"`

	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time  `bson:"updatedAt" json:"updatedAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	Confidence         float64   `bson:"confidence" json:"confidence"`
	Strength           float64   `bson:"strength" json:"strength"`
	ReinforcementCount int       `bson:"reinforcementCount" json:"reinforcementCount"`
	LastReinforcedAt   time.Time `bson:"lastReinforcedAt" json:"lastReinforcedAt"`

	// DecayedAt anchors incremental decay so successive passes compose to
	// the same result as one pass over the combined interval.
	DecayedAt *time.Time `bson:"decayedAt,omitempty" json:"-"`

	Layer      Layer      `bson:"layer" json:"layer"`
	MemoryType MemoryType `bson:"memoryType" json:"memoryType"`

	Edges          []Edge          `bson:"edges,omitempty" json:"edges,omitempty"`
	Contradictions []Contradiction `bson:"contradictions,omitempty" json:"contradictions,omitempty"`
}

// DefaultConfidence and DefaultStrength are applied by Remember and the
// classify stage when the caller does not override them.
const (
	DefaultConfidence = 0.6
	DefaultStrength   = 1.0
)

// Validate checks the record against the creation invariants. dim is the
// deployment's embedding dimension; pass 0 to skip the dimension check.
func (m *Memory) Validate(dim int) error {
	if m.AgentID == "" {
		return ErrEmptyAgentID
	}
	if m.Text == "" {
		return ErrEmptyText
	}
	if m.Confidence < 0.0 || m.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	if m.Strength < 0.0 || m.Strength > 1.0 {
		return ErrInvalidStrength
	}
	if !ValidLayers[m.Layer] {
		return ErrInvalidLayer
	}
	if !ValidMemoryTypes[m.MemoryType] {
		return ErrInvalidMemoryType
	}
	if dim > 0 && len(m.Embedding) != dim {
		return ErrDimensionMismatch
	}
	for _, e := range m.Edges {
		if e.Weight < 0.0 || e.Weight > 1.0 {
			return ErrInvalidWeight
		}
		if !ValidEdgeTypes[e.Type] {
			return ErrInvalidEdgeType
		}
	}
	for _, c := range m.Contradictions {
		if c.Probability < 0.0 || c.Probability > 1.0 {
			return ErrInvalidProbability
		}
	}
	return nil
}

// ApplyDefaults fills zero-valued reliability and classification fields the
// way Remember does. now becomes createdAt, updatedAt, and lastReinforcedAt
// when those are unset.
func (m *Memory) ApplyDefaults(now time.Time) {
	if m.Confidence == 0 {
		m.Confidence = DefaultConfidence
	}
	if m.Strength == 0 {
		m.Strength = DefaultStrength
	}
	if m.Layer == "" {
		m.Layer = LayerEpisodic
	}
	if m.MemoryType == "" {
		m.MemoryType = TypeFact
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.LastReinforcedAt.IsZero() {
		m.LastReinforcedAt = now
	}
}

// PendingEdge is a proposed graph link awaiting materialization by the
// graph-apply stage.
type PendingEdge struct {
	ID          string         `bson:"_id,omitempty" json:"id"`
	AgentID     string         `bson:"agentId" json:"agentId"`
	SourceID    string         `bson:"sourceId" json:"sourceId"`
	TargetID    string         `bson:"targetId" json:"targetId"`
	Type        EdgeType       `bson:"type" json:"type"`
	Weight      float64        `bson:"weight" json:"weight"`
	Probability float64        `bson:"probability" json:"probability"`
	CreatedAt   time.Time      `bson:"createdAt" json:"createdAt"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks range invariants on the pending edge.
func (p *PendingEdge) Validate() error {
	if p.SourceID == "" || p.TargetID == "" {
		return ErrInvalidInput
	}
	if !ValidEdgeTypes[p.Type] {
		return ErrInvalidEdgeType
	}
	if p.Weight < 0.0 || p.Weight > 1.0 {
		return ErrInvalidWeight
	}
	if p.Probability < 0.0 || p.Probability > 1.0 {
		return ErrInvalidProbability
	}
	return nil
}
