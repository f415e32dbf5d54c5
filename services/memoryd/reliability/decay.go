// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reliability holds the pure arithmetic behind memory strength and
// confidence: exponential temporal decay per layer, reinforcement boosts,
// and contradiction penalties. Everything here is deterministic and
// side-effect free so the pipeline and scheduler share one source of truth.
package reliability

import (
	"math"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Per-layer decay rates, in strength fraction per day.
const (
	RateWorking  = 0.05
	RateEpisodic = 0.015
	RateSemantic = 0.003
	RateArchival = 0.001
)

// Strength thresholds for lifecycle transitions.
const (
	// ArchivalThreshold is the strength below which a memory becomes an
	// archival candidate.
	ArchivalThreshold = 0.25

	// ExpirationThreshold is the strength below which a memory becomes an
	// expiration candidate.
	ExpirationThreshold = 0.10
)

// Rate returns the decay rate for a layer. Unknown layers decay at the
// episodic rate.
func Rate(layer datatypes.Layer) float64 {
	switch layer {
	case datatypes.LayerWorking:
		return RateWorking
	case datatypes.LayerEpisodic:
		return RateEpisodic
	case datatypes.LayerSemantic:
		return RateSemantic
	case datatypes.LayerArchival:
		return RateArchival
	default:
		return RateEpisodic
	}
}

// Decay returns the strength after elapsed time at the layer's rate:
// s' = s * exp(-rate * days). Negative elapsed time leaves strength
// unchanged.
func Decay(strength float64, layer datatypes.Layer, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return strength
	}
	days := elapsed.Hours() / 24
	return strength * math.Exp(-Rate(layer)*days)
}

// IsArchivalCandidate reports whether strength has fallen into the archival
// band [0.10, 0.25).
func IsArchivalCandidate(strength float64) bool {
	return strength >= ExpirationThreshold && strength < ArchivalThreshold
}

// IsExpirationCandidate reports whether strength has fallen below the
// expiration threshold.
func IsExpirationCandidate(strength float64) bool {
	return strength < ExpirationThreshold
}
