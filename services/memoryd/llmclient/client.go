// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llmclient wraps an OpenAI-compatible chat endpoint for the one LLM
// duty the daemon has: explaining why two memories contradict. The daemon
// never blocks on it; every caller treats a failure as "no explanation".
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Explainer produces a human-readable explanation and severity grade for a
// detected contradiction.
type Explainer interface {
	ExplainContradiction(ctx context.Context, newer, older string) (Explanation, error)
}

// Explanation is the explainer's verdict on one contradiction pair.
type Explanation struct {
	Explanation string             `json:"explanation"`
	Severity    datatypes.Severity `json:"severity"`
}

// Config configures the chat-completion client.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries uint64
}

// DefaultConfig returns the production defaults. Endpoint stays empty; an
// empty endpoint disables the explainer entirely.
func DefaultConfig() Config {
	return Config{
		Model:      "gpt-4o-mini",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// Client calls an OpenAI-compatible endpoint. A nil *Client is a valid
// disabled explainer.
type Client struct {
	cfg    Config
	api    *openai.Client
	logger *slog.Logger
}

var _ Explainer = (*Client)(nil)

// New creates a client, or nil when no endpoint is configured.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Endpoint == "" {
		return nil
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.Endpoint
	return &Client{cfg: cfg, api: openai.NewClientWithConfig(apiCfg), logger: logger}
}

const explainSystemPrompt = `You grade contradictions between two statements an AI agent has remembered.
Respond with JSON only: {"explanation": "<one sentence>", "severity": "high"|"medium"|"low"}.`

// ExplainContradiction asks the model why the two statements conflict.
// A nil client returns datatypes.ErrLLMFailed immediately.
func (c *Client) ExplainContradiction(ctx context.Context, newer, older string) (Explanation, error) {
	if c == nil {
		return Explanation{}, fmt.Errorf("explainer disabled: %w", datatypes.ErrLLMFailed)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf("Newer statement: %q\nOlder statement: %q\nWhy do they conflict, and how severe is it?", newer, older)

	var content string
	operation := func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: explainSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.Multiplier = 2
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Explanation{}, fmt.Errorf("explain contradiction: %w", datatypes.ErrTimeout)
		}
		c.logger.Warn("Contradiction explainer failed", "error", err)
		return Explanation{}, fmt.Errorf("explain contradiction: %v: %w", err, datatypes.ErrLLMFailed)
	}
	return parseExplanation(content), nil
}

// parseExplanation is deliberately lenient: models wrap JSON in prose and
// code fences, and a degraded explanation beats none. Unparseable content
// becomes the raw text at medium severity.
func parseExplanation(content string) Explanation {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			var out Explanation
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err == nil {
				if out.Severity != datatypes.SeverityHigh && out.Severity != datatypes.SeverityLow {
					out.Severity = datatypes.SeverityMedium
				}
				return out
			}
		}
	}
	return Explanation{Explanation: trimmed, Severity: datatypes.SeverityMedium}
}
