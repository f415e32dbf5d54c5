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

	"github.com/openclaw/memoryd/services/memoryd/conflict"
	"github.com/openclaw/memoryd/services/memoryd/embed"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// Stage names, in execution order.
const (
	StageExtract          = "extract"
	StageDeduplicate      = "deduplicate"
	StageConflictCheck    = "conflict-check"
	StageClassify         = "classify"
	StageConfidenceUpdate = "confidence-update"
	StageDecayPass        = "decay-pass"
	StageEntityUpdate     = "entity-update"
	StageGraphLink        = "graph-link"
	StageGraphApply       = "graph-apply"
	StageGlobalDedup      = "global-deduplicate"
)

// StageOrder is the fixed execution order. Configuration may disable stages
// but never permute them.
var StageOrder = []string{
	StageExtract,
	StageDeduplicate,
	StageConflictCheck,
	StageClassify,
	StageConfidenceUpdate,
	StageDecayPass,
	StageEntityUpdate,
	StageGraphLink,
	StageGraphApply,
	StageGlobalDedup,
}

// Stage is one pipeline step: a name and an execution function mutating the
// run context. An error aborts the run; the executor records it.
type Stage struct {
	Name string
	Run  func(ctx context.Context, pc *Context) error
}

// Deps carries everything the built-in stages need.
type Deps struct {
	Store    store.Store
	Embedder embed.Embedder
	Detector conflict.Detector
	Logger   *slog.Logger

	// Disabled names stages to skip when assembling the list.
	Disabled map[string]bool
}

// DefaultStages assembles the ten built-in stages in their fixed order,
// minus any disabled ones.
func DefaultStages(d Deps) []Stage {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	all := []Stage{
		{StageExtract, d.extract},
		{StageDeduplicate, d.deduplicate},
		{StageConflictCheck, d.conflictCheck},
		{StageClassify, d.classify},
		{StageConfidenceUpdate, d.confidenceUpdate},
		{StageDecayPass, d.decayPass},
		{StageEntityUpdate, d.entityUpdate},
		{StageGraphLink, d.graphLink},
		{StageGraphApply, d.graphApply},
		{StageGlobalDedup, d.globalDedup},
	}
	out := make([]Stage, 0, len(all))
	for _, s := range all {
		if d.Disabled[s.Name] {
			d.Logger.Info("Pipeline stage disabled by configuration", "stage", s.Name)
			continue
		}
		out = append(out, s)
	}
	return out
}
