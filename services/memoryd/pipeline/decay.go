// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/observability"
	"github.com/openclaw/memoryd/services/memoryd/reliability"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// DecayBatchSize bounds the bulk updates one decay batch issues.
const DecayBatchSize = 100

// strengthEpsilon filters no-op updates: strengths that moved less than this
// are left untouched.
const strengthEpsilon = 1e-9

// RunDecayPass decays every memory of the agent (or of all agents when
// agentID is empty) against the current time, bulk-updating in batches of
// 100. The same routine backs the decay-pass stage, the nightly scheduler,
// and the manual trigger endpoint.
func RunDecayPass(ctx context.Context, st store.Store, agentID string, logger *slog.Logger) (datatypes.DecayStats, error) {
	start := time.Now()
	now := start.UTC()
	var stats datatypes.DecayStats

	err := st.ForEachMemoryBatch(ctx, agentID, DecayBatchSize, func(batch []datatypes.Memory) error {
		updates := make([]store.MemoryUpdate, 0, len(batch))
		for _, m := range batch {
			stats.TotalMemories++
			// Anchor on the later of last reinforcement and last decay so
			// successive passes compose like one pass over the combined
			// interval.
			anchor := m.LastReinforcedAt
			if m.DecayedAt != nil && m.DecayedAt.After(anchor) {
				anchor = *m.DecayedAt
			}
			next := reliability.Decay(m.Strength, m.Layer, now.Sub(anchor))
			if next > m.Strength {
				next = m.Strength
			}
			changed := m.Strength-next > strengthEpsilon
			if changed {
				stats.Decayed++
				updates = append(updates, store.MemoryUpdate{
					ID: m.ID,
					Update: store.Update{Set: map[string]any{
						"strength":  next,
						"decayedAt": now,
						"updatedAt": now,
					}},
				})
			}
			if reliability.IsArchivalCandidate(next) {
				stats.ArchivalCandidates++
			}
			if reliability.IsExpirationCandidate(next) {
				stats.ExpirationCandidates++
			}
		}
		return st.BulkUpdateMemories(ctx, updates)
	})
	stats.Duration = time.Since(start)
	stats.DurationMS = stats.Duration.Milliseconds()
	if err != nil {
		return stats, err
	}

	observability.DecayedMemories.Add(float64(stats.Decayed))
	observability.LastDecayRun.SetToCurrentTime()
	logger.Info("Decay pass complete",
		"agentID", agentID,
		"total", stats.TotalMemories,
		"decayed", stats.Decayed,
		"archivalCandidates", stats.ArchivalCandidates,
		"expirationCandidates", stats.ExpirationCandidates,
		"duration", stats.Duration)
	return stats, nil
}

// decayPass runs the shared decay routine over the job's agent.
func (d Deps) decayPass(ctx context.Context, pc *Context) error {
	stats, err := RunDecayPass(ctx, d.Store, pc.AgentID, d.Logger)
	if err != nil {
		return err
	}
	pc.AddStat(StageDecayPass, "total", stats.TotalMemories)
	pc.AddStat(StageDecayPass, "decayed", stats.Decayed)
	pc.AddStat(StageDecayPass, "archival_candidates", stats.ArchivalCandidates)
	pc.AddStat(StageDecayPass, "expiration_candidates", stats.ExpirationCandidates)
	return nil
}
