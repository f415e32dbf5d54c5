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
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// ApplyProbabilityFloor is the minimum probability at which a pending edge
// gets materialized.
const ApplyProbabilityFloor = 0.5

// entityUpdate extracts entity mentions from the run's new memories, upserts
// their hub documents, and emits MENTIONS_ENTITY pending edges.
func (d Deps) entityUpdate(ctx context.Context, pc *Context) error {
	now := time.Now().UTC()
	entities, edges := 0, 0

	for _, atom := range pc.ClassifiedAtoms {
		if atom.MemoryID == "" {
			continue
		}
		for _, mention := range extractMentions(atom.Text) {
			err := d.Store.UpsertEntity(ctx, pc.AgentID, mention.slug, store.Update{
				Set: map[string]any{
					"name":       mention.name,
					"lastSeenAt": now,
					"updatedAt":  now,
				},
				Inc:         map[string]any{"memoryCount": 1},
				SetOnInsert: map[string]any{"createdAt": now, "entityType": "concept"},
			})
			if err != nil {
				return fmt.Errorf("upsert entity: %w", err)
			}
			entities++

			edge := &datatypes.PendingEdge{
				AgentID:     pc.AgentID,
				SourceID:    atom.MemoryID,
				TargetID:    mention.slug,
				Type:        datatypes.EdgeMentionsEntity,
				Weight:      0.5,
				Probability: 0.8,
				CreatedAt:   now,
			}
			if _, err := d.Store.InsertPendingEdge(ctx, edge); err != nil {
				return fmt.Errorf("enqueue entity edge: %w", err)
			}
			edges++
		}
	}
	pc.AddStat(StageEntityUpdate, "entities", entities)
	pc.AddStat(StageEntityUpdate, "edges", edges)
	return nil
}

type mention struct {
	slug string
	name string
}

// mentionStopwords filters sentence-leading capitals and pronouns that look
// like proper nouns but are not entities.
var mentionStopwords = map[string]bool{
	"i": true, "the": true, "a": true, "an": true, "we": true, "they": true,
	"he": true, "she": true, "it": true, "user": true, "this": true,
	"that": true, "my": true, "our": true, "today": true, "yesterday": true,
	"tomorrow": true, "switched": true, "decided": true,
}

var mentionTokenRe = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_-]+\b`)

// extractMentions pulls capitalized tokens as entity candidates, merging
// adjacent ones into a single name ("Redis Cluster" stays one entity).
func extractMentions(text string) []mention {
	matches := mentionTokenRe.FindAllStringIndex(text, -1)
	var out []mention
	seen := map[string]bool{}

	var current []string
	var lastEnd int
	flush := func() {
		if len(current) == 0 {
			return
		}
		name := strings.Join(current, " ")
		slug := slugify(name)
		current = nil
		if slug == "" || seen[slug] {
			return
		}
		seen[slug] = true
		out = append(out, mention{slug: slug, name: name})
	}

	for _, loc := range matches {
		tok := text[loc[0]:loc[1]]
		if mentionStopwords[strings.ToLower(tok)] {
			flush()
			continue
		}
		// Adjacent capitalized tokens separated by one space merge.
		if len(current) > 0 && loc[0] != lastEnd+1 {
			flush()
		}
		current = append(current, tok)
		lastEnd = loc[1]
	}
	flush()
	return out
}

var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := slugCleanRe.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

var causativeRe = regexp.MustCompile(`\b(because|therefore|so that|led to|caused|as a result|due to)\b`)

var orderingRe = regexp.MustCompile(`\b(then|after|afterwards|next|later|before)\b`)

// graphLink proposes relations between the run's new memories: co-occurrence
// for session siblings, causal/temporal links for ordered pairs with the
// matching cue, and supersession for atoms that displaced a contradicted
// memory.
func (d Deps) graphLink(ctx context.Context, pc *Context) error {
	now := time.Now().UTC()
	var persisted []*datatypes.CandidateMemory
	for _, atom := range pc.ClassifiedAtoms {
		if atom.MemoryID != "" {
			persisted = append(persisted, atom)
		}
	}

	emitted := 0
	emit := func(p *datatypes.PendingEdge) error {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, err := d.Store.InsertPendingEdge(ctx, p); err != nil {
			return fmt.Errorf("enqueue edge: %w", err)
		}
		emitted++
		return nil
	}

	for i := 1; i < len(persisted); i++ {
		prev, cur := persisted[i-1], persisted[i]

		if pc.SessionID != "" {
			err := emit(&datatypes.PendingEdge{
				AgentID: pc.AgentID, SourceID: prev.MemoryID, TargetID: cur.MemoryID,
				Type: datatypes.EdgeCoOccurs, Weight: 0.4, Probability: 0.7, CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}

		lower := strings.ToLower(cur.Text)
		switch {
		case causativeRe.MatchString(lower):
			err := emit(&datatypes.PendingEdge{
				AgentID: pc.AgentID, SourceID: prev.MemoryID, TargetID: cur.MemoryID,
				Type: datatypes.EdgeCauses, Weight: 0.6, Probability: 0.65, CreatedAt: now,
			})
			if err != nil {
				return err
			}
		case orderingRe.MatchString(lower):
			err := emit(&datatypes.PendingEdge{
				AgentID: pc.AgentID, SourceID: prev.MemoryID, TargetID: cur.MemoryID,
				Type: datatypes.EdgePrecedes, Weight: 0.5, Probability: 0.6, CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
	}

	for _, atom := range persisted {
		for _, c := range atom.Contradictions {
			if c.Type != datatypes.ContradictionDirect && c.Type != datatypes.ContradictionTemporal {
				continue
			}
			atom.SetMeta(datatypes.SupersedesHintKey, c.TargetID)
			err := emit(&datatypes.PendingEdge{
				AgentID: pc.AgentID, SourceID: atom.MemoryID, TargetID: c.TargetID,
				Type: datatypes.EdgeSupersedes, Weight: 0.8, Probability: c.Probability, CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
	}

	pc.AddStat(StageGraphLink, "edges", emitted)
	return nil
}

// graphApply materializes pending edges with probability at or above the
// floor. This is the one stage that continues past per-edge errors; a bad
// edge is logged and counted as skipped, never fatal.
func (d Deps) graphApply(ctx context.Context, pc *Context) error {
	applied, skipped, err := ApplyPendingEdges(ctx, d.Store, pc.AgentID, d.Logger)
	if err != nil {
		return err
	}
	pc.AddStat(StageGraphApply, "applied", applied)
	pc.AddStat(StageGraphApply, "skipped", skipped)
	return nil
}

// ApplyPendingEdges drains the agent's pending edges at or above the
// application floor, highest probability first. An edge whose source memory
// is gone is dropped and counted as skipped. CO_OCCURS and CONTRADICTS
// edges also gain a reverse edge on the target when it still exists.
func ApplyPendingEdges(ctx context.Context, st store.Store, agentID string, logger *slog.Logger) (applied, skipped int, err error) {
	pending, err := st.ListPendingEdges(ctx, agentID, ApplyProbabilityFloor, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending edges: %w", err)
	}
	now := time.Now().UTC()

	for _, p := range pending {
		if _, err := st.GetMemory(ctx, p.SourceID); err != nil {
			if !errors.Is(err, datatypes.ErrNotFound) {
				logger.Warn("Pending edge source lookup failed", "edgeID", p.ID, "error", err)
			}
			_ = st.DeletePendingEdge(ctx, p.ID)
			skipped++
			continue
		}

		edge := datatypes.Edge{
			Type:      p.Type,
			TargetID:  p.TargetID,
			Weight:    p.Weight,
			CreatedAt: now,
			Metadata:  p.Metadata,
		}
		err := st.UpdateMemory(ctx, p.SourceID, store.Update{
			Push: map[string]any{"edges": edge},
			Set:  map[string]any{"updatedAt": now},
		})
		if err != nil {
			logger.Warn("Pending edge application failed", "edgeID", p.ID, "error", err)
			skipped++
			continue
		}

		if p.Type == datatypes.EdgeCoOccurs || p.Type == datatypes.EdgeContradicts {
			reverse := datatypes.Edge{
				Type:      p.Type,
				TargetID:  p.SourceID,
				Weight:    p.Weight,
				CreatedAt: now,
			}
			err := st.UpdateMemory(ctx, p.TargetID, store.Update{
				Push: map[string]any{"edges": reverse},
				Set:  map[string]any{"updatedAt": now},
			})
			if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
				logger.Warn("Reverse edge application failed", "edgeID", p.ID, "error", err)
			}
		}

		if err := st.DeletePendingEdge(ctx, p.ID); err != nil && !errors.Is(err, datatypes.ErrNotFound) {
			logger.Warn("Pending edge cleanup failed", "edgeID", p.ID, "error", err)
		}
		applied++
	}
	return applied, skipped, nil
}
