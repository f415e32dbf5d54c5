// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Entity is a hub document for a person, project, system, or concept that
// memories mention. Slug is unique per agent.
type Entity struct {
	ID          string         `bson:"_id,omitempty" json:"id"`
	AgentID     string         `bson:"agentId" json:"agentId"`
	Slug        string         `bson:"slug" json:"slug"`
	Name        string         `bson:"name" json:"name"`
	EntityType  string         `bson:"entityType,omitempty" json:"entityType,omitempty"`
	Aliases     []string       `bson:"aliases,omitempty" json:"aliases,omitempty"`
	Summary     string         `bson:"summary,omitempty" json:"summary,omitempty"`
	Attributes  map[string]any `bson:"attributes,omitempty" json:"attributes,omitempty"`
	MemoryCount int            `bson:"memoryCount" json:"memoryCount"`
	LastSeenAt  time.Time      `bson:"lastSeenAt" json:"lastSeenAt"`
	CreatedAt   time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// Episode is the narrative record of one session: what happened, who was
// involved, and which memories were derived from it. Episodes live in the
// episodic layer by construction.
type Episode struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	AgentID      string    `bson:"agentId" json:"agentId"`
	SessionID    string    `bson:"sessionId" json:"sessionId"`
	StartedAt    time.Time `bson:"startedAt" json:"startedAt"`
	EndedAt      time.Time `bson:"endedAt" json:"endedAt"`
	Title        string    `bson:"title" json:"title"`
	Narrative    string    `bson:"narrative" json:"narrative"`
	Participants []string  `bson:"participants,omitempty" json:"participants,omitempty"`
	Topics       []string  `bson:"topics,omitempty" json:"topics,omitempty"`
	MemoryIDs    []string  `bson:"memoryIds,omitempty" json:"memoryIds,omitempty"`
	Embedding    []float32 `bson:"embedding" json:"-"`
	Strength     float64   `bson:"strength" json:"strength"`
	Layer        Layer     `bson:"layer" json:"layer"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}
