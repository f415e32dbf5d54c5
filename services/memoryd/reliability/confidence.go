// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reliability

// Confidence adjustment factors.
const (
	// ReinforceFactor is the fraction of remaining headroom granted per
	// reinforcement: c' = c + 0.05 * (1 - c).
	ReinforceFactor = 0.05

	// WeakPenalty is the multiplicative cut for a contradiction from a
	// low-confidence source.
	WeakPenalty = 0.10

	// StrongPenalty is the multiplicative cut for a contradiction from a
	// high-confidence source.
	StrongPenalty = 0.30

	// StrongSourceThreshold separates strong from weak contradiction
	// sources. Strictly greater counts as strong.
	StrongSourceThreshold = 0.75
)

// Reinforce returns confidence after one reinforcement. The asymptotic
// approach to 1.0 means repeated confirmation never reaches certainty.
func Reinforce(c float64) float64 {
	out := c + ReinforceFactor*(1-c)
	if out > 1 {
		return 1
	}
	return out
}

// WeakContradiction returns confidence after a contradiction from a weak
// source: c' = c - 0.10c.
func WeakContradiction(c float64) float64 {
	return c * (1 - WeakPenalty)
}

// StrongContradiction returns confidence after a contradiction from a strong
// source: c' = c - 0.30c.
func StrongContradiction(c float64) float64 {
	return c * (1 - StrongPenalty)
}

// IsStrongSource reports whether a contradicting statement's confidence
// qualifies it as a strong source.
func IsStrongSource(sourceConfidence float64) bool {
	return sourceConfidence > StrongSourceThreshold
}

// Contradict applies the penalty matching the source's strength.
func Contradict(c, sourceConfidence float64) float64 {
	if IsStrongSource(sourceConfidence) {
		return StrongContradiction(c)
	}
	return WeakContradiction(c)
}
