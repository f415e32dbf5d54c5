// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// maxAtomsPerRun caps extraction so a pathological transcript cannot flood
// the store in one job.
const maxAtomsPerRun = 50

// extract turns the session transcript into candidate memories. Extraction
// is rule-based: a sentence becomes an atom when it carries a decision,
// preference, or stable-fact cue; conversational filler is dropped.
func (d Deps) extract(ctx context.Context, pc *Context) error {
	pc.ExtractedAtoms = []*datatypes.CandidateMemory{}
	transcript := strings.TrimSpace(pc.Transcript)
	if transcript == "" {
		pc.AddStat(StageExtract, "atoms", 0)
		return nil
	}

	for _, sentence := range splitSentences(transcript) {
		if len(pc.ExtractedAtoms) >= maxAtomsPerRun {
			break
		}
		atom, ok := atomFromSentence(sentence)
		if !ok {
			continue
		}
		pc.ExtractedAtoms = append(pc.ExtractedAtoms, atom)
	}
	pc.AddStat(StageExtract, "atoms", len(pc.ExtractedAtoms))
	return nil
}

var sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)

func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	decisionCueRe   = regexp.MustCompile(`\b(decided|decision|switched|switching|chose|choosing|will use|going to use|migrated|migrating|agreed|adopted)\b`)
	preferenceCueRe = regexp.MustCompile(`\b(prefers?|likes?|loves?|hates?|dislikes?|favorite|favou?rite|wants?)\b`)
	factCueRe       = regexp.MustCompile(`\b(is|are|uses?|runs?|lives?|works?|has|have|requires?|supports?)\b`)
)

// atomFromSentence classifies a sentence into an atom, or rejects it as
// conversational filler. Confidence reflects cue strength; classify fills
// the remaining defaults.
func atomFromSentence(sentence string) (*datatypes.CandidateMemory, bool) {
	tokens := strings.Fields(sentence)
	if len(tokens) < 3 {
		return nil, false
	}
	lower := strings.ToLower(sentence)

	switch {
	case decisionCueRe.MatchString(lower):
		return &datatypes.CandidateMemory{
			Text:       sentence,
			Tags:       []string{"decision"},
			MemoryType: datatypes.TypeDecision,
			Confidence: 0.8,
		}, true
	case preferenceCueRe.MatchString(lower):
		return &datatypes.CandidateMemory{
			Text:       sentence,
			Tags:       []string{"preference"},
			MemoryType: datatypes.TypePreference,
			Confidence: 0.7,
		}, true
	case factCueRe.MatchString(lower):
		return &datatypes.CandidateMemory{
			Text:       sentence,
			Tags:       []string{},
			MemoryType: datatypes.TypeFact,
			Confidence: datatypes.DefaultConfidence,
		}, true
	default:
		return nil, false
	}
}
