// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conflict detects contradictions between a new statement and an
// agent's stored memories. Detection is rule-based over embedding
// similarity; the LLM only explains contradictions after the fact, it never
// decides whether one exists.
package conflict

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

// Finding pairs a stored memory with the contradiction detected against it.
// Similarity is the raw cosine score between the statement and the target.
type Finding struct {
	Target        datatypes.Memory
	Similarity    float64
	Contradiction datatypes.Contradiction
}

// Detector finds contradictions between text and the agent's existing
// memories. Implementations must treat retrieval failure as "no findings";
// contradiction detection is advisory and never blocks a write.
type Detector interface {
	Detect(ctx context.Context, agentID, text string, embedding []float32) ([]Finding, error)
}

// Tuning constants for the heuristic detector.
const (
	// CandidateLimit bounds the similarity search per atom.
	CandidateLimit = 20

	// MinSimilarity is the floor below which a pair cannot conflict.
	MinSimilarity = 0.75

	// DirectSimilarity is the floor for the direct classification.
	DirectSimilarity = 0.88

	// MinProbability drops findings too uncertain to record.
	MinProbability = 0.5
)

// Per-type probability weights, multiplied by cosine similarity.
var typeWeights = map[datatypes.ContradictionType]float64{
	datatypes.ContradictionDirect:     1.0,
	datatypes.ContradictionPreference: 0.85,
	datatypes.ContradictionTemporal:   0.75,
	datatypes.ContradictionContextual: 0.60,
}

// Heuristic is the rule-based Detector over a similarity search.
type Heuristic struct {
	store  store.Store
	logger *slog.Logger
}

var _ Detector = (*Heuristic)(nil)

// NewHeuristic creates the rule-based detector.
func NewHeuristic(s store.Store, logger *slog.Logger) *Heuristic {
	return &Heuristic{store: s, logger: logger}
}

// Detect retrieves the agent's nearest memories and classifies each
// sufficiently similar pair. A failed retrieval logs and returns no
// findings. Findings come back ordered by probability descending, with
// higher raw similarity first on ties.
func (h *Heuristic) Detect(ctx context.Context, agentID, text string, embedding []float32) ([]Finding, error) {
	hits, err := h.store.SearchByEmbedding(ctx, agentID, embedding, CandidateLimit, nil)
	if err != nil {
		h.logger.Warn("Conflict retrieval failed, skipping detection", "agentID", agentID, "error", err)
		return nil, nil
	}

	now := time.Now().UTC()
	var findings []Finding
	for _, hit := range hits {
		if hit.Score < MinSimilarity {
			continue
		}
		ctype, ok := classify(text, hit.Memory.Text, hit.Score)
		if !ok {
			continue
		}
		prob := hit.Score * typeWeights[ctype]
		if prob < MinProbability {
			continue
		}
		findings = append(findings, Finding{
			Target:     hit.Memory,
			Similarity: hit.Score,
			Contradiction: datatypes.Contradiction{
				TargetID:    hit.Memory.ID,
				DetectedAt:  now,
				Type:        ctype,
				Probability: prob,
				Severity:    severityFor(prob),
			},
		})
	}

	orderFindings(findings)
	return findings, nil
}

// orderFindings sorts by probability descending; equal probabilities rank
// the higher raw similarity first.
func orderFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Contradiction.Probability != findings[j].Contradiction.Probability {
			return findings[i].Contradiction.Probability > findings[j].Contradiction.Probability
		}
		return findings[i].Similarity > findings[j].Similarity
	})
}

// classify decides whether two similar statements oppose each other and how.
// Similarity alone is not opposition; some lexical cue must be present.
func classify(newer, older string, sim float64) (datatypes.ContradictionType, bool) {
	negAsym := hasNegation(newer) != hasNegation(older)

	switch {
	case sim >= DirectSimilarity && negAsym:
		return datatypes.ContradictionDirect, true
	case hasTemporalShift(newer) || hasTemporalShift(older):
		return datatypes.ContradictionTemporal, true
	case isPreference(newer) && isPreference(older) && newer != older:
		return datatypes.ContradictionPreference, true
	case negAsym || hasAntonymPair(newer, older):
		return datatypes.ContradictionContextual, true
	default:
		return "", false
	}
}

func severityFor(prob float64) datatypes.Severity {
	switch {
	case prob >= 0.85:
		return datatypes.SeverityHigh
	case prob >= 0.65:
		return datatypes.SeverityMedium
	default:
		return datatypes.SeverityLow
	}
}

var negationRe = regexp.MustCompile(`\b(not|no|never|don't|doesn't|didn't|won't|isn't|aren't|wasn't|can't|cannot|stopped|without)\b`)

func hasNegation(text string) bool {
	return negationRe.MatchString(strings.ToLower(text))
}

var temporalRe = regexp.MustCompile(`\b(no longer|used to|previously|formerly|now|anymore|switched|moved to|as of)\b`)

func hasTemporalShift(text string) bool {
	return temporalRe.MatchString(strings.ToLower(text))
}

var preferenceRe = regexp.MustCompile(`\b(prefers?|likes?|loves?|hates?|dislikes?|favorite|favou?rs?|wants?)\b`)

func isPreference(text string) bool {
	return preferenceRe.MatchString(strings.ToLower(text))
}

// antonymPairs lists cheap opposition cues for the contextual fallback.
var antonymPairs = [][2]string{
	{"always", "never"},
	{"enable", "disable"},
	{"enabled", "disabled"},
	{"on", "off"},
	{"light", "dark"},
	{"fast", "slow"},
	{"tabs", "spaces"},
	{"remote", "local"},
	{"before", "after"},
}

func hasAntonymPair(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, p := range antonymPairs {
		if (containsWord(la, p[0]) && containsWord(lb, p[1])) ||
			(containsWord(la, p[1]) && containsWord(lb, p[0])) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == ';' || r == ':'
	}) {
		if tok == word {
			return true
		}
	}
	return false
}
