// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "errors"

// Error taxonomy. Handlers map these to HTTP statuses with errors.Is;
// everything else becomes a generic 500.
var (
	// ErrInvalidInput covers request-shape and value-range errors (400).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for unknown IDs and slugs (404).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned for a missing or bad API key (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable covers document-store connection and command
	// failures (500). Scheduler loops retry it; Remember/Recall surface it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEmbedderFailed means the embedding provider failed after retries (503).
	ErrEmbedderFailed = errors.New("embedder failed")

	// ErrLLMFailed means the LLM provider failed after retries (503).
	ErrLLMFailed = errors.New("llm failed")

	// ErrTimeout means a deadline was exceeded (504 synchronously,
	// stage-failed in the pipeline).
	ErrTimeout = errors.New("timeout")

	// ErrShutdown marks in-flight work cancelled by graceful shutdown.
	ErrShutdown = errors.New("shutdown")
)

// Validation sentinels, all wrapping ErrInvalidInput so handlers need a
// single errors.Is check.
var (
	ErrEmptyAgentID       = wrapInvalid("agentId cannot be empty")
	ErrEmptyText          = wrapInvalid("memory text cannot be empty")
	ErrInvalidConfidence  = wrapInvalid("confidence must be between 0.0 and 1.0")
	ErrInvalidStrength    = wrapInvalid("strength must be between 0.0 and 1.0")
	ErrInvalidWeight      = wrapInvalid("edge weight must be between 0.0 and 1.0")
	ErrInvalidProbability = wrapInvalid("probability must be between 0.0 and 1.0")
	ErrInvalidLayer       = wrapInvalid("invalid memory layer")
	ErrInvalidMemoryType  = wrapInvalid("invalid memory type")
	ErrInvalidEdgeType    = wrapInvalid("invalid edge type")
	ErrDimensionMismatch  = wrapInvalid("embedding dimension mismatch")
)

type invalidInputError struct{ msg string }

func (e *invalidInputError) Error() string { return e.msg }

func (e *invalidInputError) Unwrap() error { return ErrInvalidInput }

func wrapInvalid(msg string) error { return &invalidInputError{msg: msg} }
