// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultMockDimension keeps mock vectors small; tests never need the
// production dimension.
const DefaultMockDimension = 256

// Mock is a deterministic offline embedder. Each lowercased token hashes
// into a fixed bucket, the bucket counts form the vector, and the vector is
// L2-normalized. Identical text always embeds identically, shared vocabulary
// produces positive similarity, and disjoint vocabulary scores near zero.
type Mock struct {
	dim int
}

var _ Embedder = (*Mock)(nil)

// NewMock creates a mock embedder. dim <= 0 selects DefaultMockDimension.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = DefaultMockDimension
	}
	return &Mock{dim: dim}
}

func (m *Mock) Dimension() int { return m.dim }

func (m *Mock) Mode() string { return "mock" }

// Embed is role-insensitive: the token-bag construction has no asymmetric
// query mode, and Recall relies on that so query vectors match document
// vectors for identical text.
func (m *Mock) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embedOne(t)
	}
	return out, nil
}

func (m *Mock) embedOne(text string) []float32 {
	vec := make([]float32, m.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%m.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
