// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/observability"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// RunGlobalDedup collapses exact (agent, text) duplicate groups: the oldest
// record survives with the union of every member's tags, the rest are
// deleted. agentID == "" spans all agents. With dryRun set nothing is
// written; the returned details describe what a real run would do.
// Also backs POST /deduplicate.
func RunGlobalDedup(ctx context.Context, st store.Store, agentID string, dryRun bool) ([]datatypes.DedupGroup, int, error) {
	groups, err := st.DuplicateTextGroups(ctx, agentID)
	if err != nil {
		return nil, 0, fmt.Errorf("find duplicate groups: %w", err)
	}
	now := time.Now().UTC()
	removed := 0
	details := make([]datatypes.DedupGroup, 0, len(groups))

	for _, g := range groups {
		members, err := st.ListMemories(ctx, store.MemoryFilter{AgentID: g.AgentID, IDs: g.IDs}, 0)
		if err != nil {
			return nil, 0, fmt.Errorf("load duplicate group: %w", err)
		}
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		})

		kept := members[0]
		tagSet := map[string]bool{}
		for _, m := range members {
			for _, t := range m.Tags {
				tagSet[t] = true
			}
		}
		mergedTags := make([]string, 0, len(tagSet))
		for t := range tagSet {
			mergedTags = append(mergedTags, t)
		}
		sort.Strings(mergedTags)

		detail := datatypes.DedupGroup{
			AgentID: g.AgentID,
			Text:    g.Text,
			KeptID:  kept.ID,
			Tags:    mergedTags,
			DryRun:  dryRun,
		}
		for _, m := range members[1:] {
			detail.Removed = append(detail.Removed, m.ID)
		}

		if !dryRun {
			err := st.UpdateMemory(ctx, kept.ID, store.Update{
				Set: map[string]any{"tags": mergedTags, "updatedAt": now},
			})
			if err != nil {
				return nil, 0, fmt.Errorf("merge duplicate tags: %w", err)
			}
			if _, err := st.DeleteMemories(ctx, store.MemoryFilter{AgentID: g.AgentID, IDs: detail.Removed}); err != nil {
				return nil, 0, fmt.Errorf("delete duplicates: %w", err)
			}
			observability.MemoryOps.WithLabelValues("deduplicated").Add(float64(len(detail.Removed)))
		}
		removed += len(detail.Removed)
		details = append(details, detail)
	}
	return details, removed, nil
}

// globalDedup runs the collapse for the job's agent, writing for real.
func (d Deps) globalDedup(ctx context.Context, pc *Context) error {
	details, removed, err := RunGlobalDedup(ctx, d.Store, pc.AgentID, false)
	if err != nil {
		return err
	}
	pc.AddStat(StageGlobalDedup, "groups", len(details))
	pc.AddStat(StageGlobalDedup, "removed", removed)
	return nil
}
