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
	"fmt"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/embed"
	"github.com/openclaw/memoryd/services/memoryd/reliability"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// NearDuplicateSimilarity is the cosine floor at which an atom counts as a
// restatement of an existing memory.
const NearDuplicateSimilarity = 0.92

// deduplicate embeds each atom and marks those that restate an existing
// memory of the same agent with likelyDuplicateOf. Marked atoms stay in the
// run so later stages can reinforce their targets.
func (d Deps) deduplicate(ctx context.Context, pc *Context) error {
	pc.DeduplicatedAtoms = []*datatypes.CandidateMemory{}
	if len(pc.ExtractedAtoms) == 0 {
		pc.AddStat(StageDeduplicate, "atoms", 0)
		return nil
	}

	texts := make([]string, len(pc.ExtractedAtoms))
	for i, a := range pc.ExtractedAtoms {
		texts[i] = a.Text
	}
	vectors, err := d.Embedder.Embed(ctx, texts, embed.RoleDocument)
	if err != nil {
		return fmt.Errorf("embed atoms: %w", err)
	}
	pc.Usage.CountEmbedding(len(texts))

	duplicates := 0
	for i, atom := range pc.ExtractedAtoms {
		atom.Embedding = vectors[i]
		hits, err := d.Store.SearchByEmbedding(ctx, pc.AgentID, atom.Embedding, 1, nil)
		if err != nil {
			return fmt.Errorf("near-duplicate search: %w", err)
		}
		if len(hits) > 0 && hits[0].Score >= NearDuplicateSimilarity {
			atom.SetMeta(datatypes.LikelyDuplicateOfKey, hits[0].Memory.ID)
			duplicates++
		}
		pc.DeduplicatedAtoms = append(pc.DeduplicatedAtoms, atom)
	}
	pc.AddStat(StageDeduplicate, "atoms", len(pc.DeduplicatedAtoms))
	pc.AddStat(StageDeduplicate, "duplicates", duplicates)
	return nil
}

// conflictCheck runs the contradiction detector over each atom and attaches
// the findings. Atoms marked as duplicates are skipped; a restatement cannot
// contradict the record it restates.
func (d Deps) conflictCheck(ctx context.Context, pc *Context) error {
	conflicts := 0
	for _, atom := range pc.DeduplicatedAtoms {
		if atom.LikelyDuplicateOf() != "" {
			continue
		}
		findings, err := d.Detector.Detect(ctx, pc.AgentID, atom.Text, atom.Embedding)
		if err != nil {
			return fmt.Errorf("conflict detection: %w", err)
		}
		for _, f := range findings {
			atom.Contradictions = append(atom.Contradictions, f.Contradiction)
		}
		conflicts += len(findings)
	}
	pc.AddStat(StageConflictCheck, "conflicts", conflicts)
	return nil
}

// classify assigns the final layer and type per atom and persists the new
// ones. It also writes the session's episode record when the run produced
// new memories for a named session.
func (d Deps) classify(ctx context.Context, pc *Context) error {
	pc.ClassifiedAtoms = []*datatypes.CandidateMemory{}
	now := time.Now().UTC()
	persisted := 0
	var newIDs []string
	var titles []string

	for _, atom := range pc.DeduplicatedAtoms {
		classifyAtom(atom)
		pc.ClassifiedAtoms = append(pc.ClassifiedAtoms, atom)
		if atom.LikelyDuplicateOf() != "" {
			continue
		}

		m := &datatypes.Memory{
			AgentID:         pc.AgentID,
			SourceSessionID: pc.SessionID,
			Text:            atom.Text,
			Tags:            atom.Tags,
			Embedding:       atom.Embedding,
			Confidence:      atom.Confidence,
			MemoryType:      atom.MemoryType,
			Layer:           layerFor(atom.MemoryType),
			Contradictions:  atom.Contradictions,
		}
		m.ApplyDefaults(now)
		if err := m.Validate(0); err != nil {
			return fmt.Errorf("classify atom: %w", err)
		}
		id, err := d.Store.InsertMemory(ctx, m)
		if err != nil {
			return fmt.Errorf("persist atom: %w", err)
		}
		atom.MemoryID = id
		newIDs = append(newIDs, id)
		titles = append(titles, atom.Text)
		persisted++
	}

	pc.AddStat(StageClassify, "persisted", persisted)
	if pc.SessionID != "" && len(newIDs) > 0 {
		if err := d.writeEpisode(ctx, pc, now, newIDs, titles); err != nil {
			return err
		}
		pc.AddStat(StageClassify, "episodes", 1)
	}
	return nil
}

func classifyAtom(atom *datatypes.CandidateMemory) {
	if atom.MemoryType == "" {
		atom.MemoryType = datatypes.TypeFact
	}
	if atom.Confidence == 0 {
		atom.Confidence = datatypes.DefaultConfidence
	}
	if atom.Tags == nil {
		atom.Tags = []string{}
	}
}

// layerFor maps memory types onto layers: durable knowledge goes semantic,
// narrative and observational content stays episodic.
func layerFor(t datatypes.MemoryType) datatypes.Layer {
	switch t {
	case datatypes.TypeFact, datatypes.TypeDecision, datatypes.TypePreference:
		return datatypes.LayerSemantic
	default:
		return datatypes.LayerEpisodic
	}
}

// writeEpisode persists the session's episode record. Participants are the
// entity slugs mentioned across the run's new memories, topics the union of
// their tags, both in first-occurrence order.
func (d Deps) writeEpisode(ctx context.Context, pc *Context, now time.Time, memoryIDs, titles []string) error {
	narrative := pc.Transcript
	if len(narrative) > 2000 {
		narrative = narrative[:2000]
	}
	vecs, err := d.Embedder.Embed(ctx, []string{narrative}, embed.RoleDocument)
	if err != nil {
		return fmt.Errorf("embed episode: %w", err)
	}
	pc.Usage.CountEmbedding(1)

	var participants, topics []string
	seenSlug := map[string]bool{}
	seenTag := map[string]bool{}
	for _, atom := range pc.ClassifiedAtoms {
		if atom.MemoryID == "" {
			continue
		}
		for _, m := range extractMentions(atom.Text) {
			if !seenSlug[m.slug] {
				seenSlug[m.slug] = true
				participants = append(participants, m.slug)
			}
		}
		for _, tag := range atom.Tags {
			if !seenTag[tag] {
				seenTag[tag] = true
				topics = append(topics, tag)
			}
		}
	}

	ep := &datatypes.Episode{
		AgentID:      pc.AgentID,
		SessionID:    pc.SessionID,
		StartedAt:    now,
		EndedAt:      now,
		Title:        titles[0],
		Narrative:    narrative,
		MemoryIDs:    memoryIDs,
		Participants: participants,
		Topics:       topics,
		Embedding:    vecs[0],
		Strength:     datatypes.DefaultStrength,
		Layer:        datatypes.LayerEpisodic,
		CreatedAt:    now,
	}
	if _, err := d.Store.InsertEpisode(ctx, ep); err != nil {
		return fmt.Errorf("persist episode: %w", err)
	}
	return nil
}

// confidenceUpdate propagates each atom's evidence onto existing memories:
// contradiction targets lose confidence by source strength, restated
// memories gain it and count a reinforcement.
func (d Deps) confidenceUpdate(ctx context.Context, pc *Context) error {
	now := time.Now().UTC()
	penalized, reinforced := 0, 0

	for _, atom := range pc.ClassifiedAtoms {
		for _, c := range atom.Contradictions {
			target, err := d.Store.GetMemory(ctx, c.TargetID)
			if errors.Is(err, datatypes.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load contradiction target: %w", err)
			}
			next := reliability.Contradict(target.Confidence, atom.Confidence)
			err = d.Store.UpdateMemory(ctx, target.ID, store.Update{
				Set: map[string]any{"confidence": next, "updatedAt": now},
			})
			if err != nil {
				return fmt.Errorf("penalize contradiction target: %w", err)
			}
			penalized++
		}

		if dup := atom.LikelyDuplicateOf(); dup != "" {
			target, err := d.Store.GetMemory(ctx, dup)
			if err != nil {
				continue // target vanished between stages
			}
			err = d.Store.UpdateMemory(ctx, target.ID, store.Update{
				Set: map[string]any{
					"confidence":       reliability.Reinforce(target.Confidence),
					"lastReinforcedAt": now,
					"updatedAt":        now,
				},
				Inc: map[string]any{"reinforcementCount": 1},
			})
			if err != nil {
				return fmt.Errorf("reinforce duplicate target: %w", err)
			}
			reinforced++
		}
	}
	pc.AddStat(StageConfidenceUpdate, "penalized", penalized)
	pc.AddStat(StageConfidenceUpdate, "reinforced", reinforced)
	return nil
}
