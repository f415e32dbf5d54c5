// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// VoyageConfig configures the Voyage embeddings client.
type VoyageConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries uint64
}

// DefaultVoyageConfig returns the production defaults.
func DefaultVoyageConfig() VoyageConfig {
	return VoyageConfig{
		BaseURL:    "https://api.voyageai.com/v1",
		Model:      "voyage-3",
		Dimension:  1024,
		Timeout:    15 * time.Second,
		MaxRetries: 2,
	}
}

// Voyage calls the Voyage embeddings REST API. Transient failures (5xx, 429,
// transport errors) are retried with exponential backoff starting at 250ms.
type Voyage struct {
	cfg    VoyageConfig
	client *http.Client
	logger *slog.Logger
}

var _ Embedder = (*Voyage)(nil)

// NewVoyage creates a Voyage client from cfg, filling zero fields from the
// defaults.
func NewVoyage(cfg VoyageConfig, logger *slog.Logger) *Voyage {
	def := DefaultVoyageConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Voyage{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (v *Voyage) Dimension() int { return v.cfg.Dimension }

func (v *Voyage) Mode() string { return "voyage" }

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed sends texts to the embeddings endpoint and returns one vector per
// input. Exhausted retries surface datatypes.ErrEmbedderFailed; a deadline
// hit surfaces datatypes.ErrTimeout.
func (v *Voyage) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	operation := func() error {
		out, err := v.embedOnce(ctx, texts, role)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.Multiplier = 2
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, v.cfg.MaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("voyage embed: %w", datatypes.ErrTimeout)
		}
		v.logger.Error("Embedding provider failed after retries", "error", err, "texts", len(texts))
		return nil, fmt.Errorf("voyage embed: %v: %w", err, datatypes.ErrEmbedderFailed)
	}
	return vectors, nil
}

func (v *Voyage) embedOnce(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	body, err := json.Marshal(voyageRequest{
		Input:     texts,
		Model:     v.cfg.Model,
		InputType: string(role),
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("voyage returned %d: %s", resp.StatusCode, detail)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("voyage returned %d vectors for %d inputs", len(parsed.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, backoff.Permanent(fmt.Errorf("voyage returned out-of-range index %d", d.Index))
		}
		if len(d.Embedding) != v.cfg.Dimension {
			return nil, backoff.Permanent(fmt.Errorf("voyage returned dimension %d, want %d", len(d.Embedding), v.cfg.Dimension))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
