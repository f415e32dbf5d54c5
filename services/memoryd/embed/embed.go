// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embed turns text into fixed-dimension vectors. The production
// provider is the Voyage embeddings API; a deterministic in-process mock
// backs tests and offline runs.
package embed

import (
	"context"
	"math"
)

// Role selects the provider-side embedding mode. Documents and queries are
// embedded asymmetrically by retrieval-tuned models.
type Role string

const (
	RoleDocument Role = "document"
	RoleQuery    Role = "query"
)

// Embedder is the provider contract. Embed returns one vector per input
// text, all with Dimension() components, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, role Role) ([][]float32, error)
	Dimension() int

	// Mode identifies the provider ("voyage" or "mock") for /status.
	Mode() string
}

// Cosine computes the cosine similarity of two vectors. It returns 0 for
// mismatched dimensions or zero vectors; callers that must reject mismatches
// check lengths before calling.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
