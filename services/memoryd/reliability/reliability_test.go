// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reliability

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

func TestRate_PerLayer(t *testing.T) {
	assert.Equal(t, 0.05, Rate(datatypes.LayerWorking))
	assert.Equal(t, 0.015, Rate(datatypes.LayerEpisodic))
	assert.Equal(t, 0.003, Rate(datatypes.LayerSemantic))
	assert.Equal(t, 0.001, Rate(datatypes.LayerArchival))
	assert.Equal(t, RateEpisodic, Rate(datatypes.Layer("bogus")))
}

func TestDecay_Exponential(t *testing.T) {
	// Episodic at 0.3 strength after 30 days: 0.3 * exp(-0.015*30).
	got := Decay(0.3, datatypes.LayerEpisodic, 30*24*time.Hour)
	want := 0.3 * math.Exp(-0.45)
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 0.1913, got, 0.0005)
}

func TestDecay_ZeroElapsed(t *testing.T) {
	assert.Equal(t, 0.8, Decay(0.8, datatypes.LayerWorking, 0))
	assert.Equal(t, 0.8, Decay(0.8, datatypes.LayerWorking, -time.Hour))
}

func TestDecay_WorkingFasterThanSemantic(t *testing.T) {
	elapsed := 10 * 24 * time.Hour
	working := Decay(1.0, datatypes.LayerWorking, elapsed)
	semantic := Decay(1.0, datatypes.LayerSemantic, elapsed)
	assert.Less(t, working, semantic)
}

func TestThresholds(t *testing.T) {
	assert.False(t, IsArchivalCandidate(0.25))
	assert.True(t, IsArchivalCandidate(0.249))
	assert.True(t, IsArchivalCandidate(0.10))
	assert.False(t, IsArchivalCandidate(0.099))

	assert.True(t, IsExpirationCandidate(0.099))
	assert.False(t, IsExpirationCandidate(0.10))
}

func TestReinforce(t *testing.T) {
	// 0.6 + 0.05*(0.4) = 0.62
	assert.InDelta(t, 0.62, Reinforce(0.6), 1e-9)

	// Repeated reinforcement approaches but never reaches 1.0.
	c := 0.6
	for i := 0; i < 1000; i++ {
		next := Reinforce(c)
		assert.Greater(t, next, c)
		c = next
	}
	assert.Less(t, c, 1.0)
	assert.LessOrEqual(t, Reinforce(1.0), 1.0)
}

func TestContradictionPenalties(t *testing.T) {
	assert.InDelta(t, 0.54, WeakContradiction(0.6), 1e-9)
	assert.InDelta(t, 0.42, StrongContradiction(0.6), 1e-9)

	// Threshold is strictly greater-than.
	assert.False(t, IsStrongSource(0.75))
	assert.True(t, IsStrongSource(0.76))

	assert.InDelta(t, 0.54, Contradict(0.6, 0.75), 1e-9)
	assert.InDelta(t, 0.42, Contradict(0.6, 0.80), 1e-9)
}
