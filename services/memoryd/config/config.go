// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the daemon's runtime configuration from the
// environment on top of compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Config is the daemon's full runtime configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// MongoURI is the connection string of the backing store. Empty selects
	// the in-process store.
	MongoURI string

	// MongoDBName is the database name within the store.
	MongoDBName string

	// APIKey is the bearer token required on every route except /health and
	// /metrics. Empty disables authentication.
	APIKey string

	// VoyageAPIKey authenticates against the embedding provider.
	VoyageAPIKey string

	// VoyageModel overrides the default embedding model.
	VoyageModel string

	// MockEmbedder selects the deterministic in-process embedder. Implied
	// when VoyageAPIKey is empty.
	MockEmbedder bool

	// LLMEndpoint is the OpenAI-compatible endpoint used for contradiction
	// explanations. Empty disables enhancement.
	LLMEndpoint string

	// LLMAPIKey authenticates against LLMEndpoint.
	LLMAPIKey string

	// LLMModel overrides the default explanation model.
	LLMModel string

	// DecayHour is the local hour (0-23) of the nightly decay pass.
	DecayHour int

	// ShutdownTimeout bounds graceful HTTP and scheduler shutdown.
	ShutdownTimeout time.Duration

	// TracingEnabled turns on the OTLP tracer and OpenTelemetry HTTP
	// middleware. Set when OTEL_EXPORTER_OTLP_ENDPOINT is present.
	TracingEnabled bool
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Port:            7654,
		MongoDBName:     "openclaw_memory",
		DecayHour:       2,
		ShutdownTimeout: 30 * time.Second,
	}
}

// FromEnv builds the configuration from defaults overlaid with environment
// variables, then validates it.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("MEMORY_DAEMON_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MEMORY_DAEMON_PORT %q: %w", v, datatypes.ErrInvalidInput)
		}
		cfg.Port = p
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("MONGODB_DB_NAME"); v != "" {
		cfg.MongoDBName = v
	}
	if v := os.Getenv("MEMORY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("VOYAGE_API_KEY"); v != "" {
		cfg.VoyageAPIKey = v
	}
	if v := os.Getenv("VOYAGE_MODEL"); v != "" {
		cfg.VoyageModel = v
	}
	if v := os.Getenv("VOYAGE_MOCK"); v != "" {
		cfg.MockEmbedder, _ = strconv.ParseBool(v)
	}
	if cfg.VoyageAPIKey == "" {
		cfg.MockEmbedder = true
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLMEndpoint = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("MEMORY_DECAY_HOUR"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MEMORY_DECAY_HOUR %q: %w", v, datatypes.ErrInvalidInput)
		}
		cfg.DecayHour = h
	}
	if v := os.Getenv("MEMORY_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("MEMORY_SHUTDOWN_TIMEOUT %q: %w", v, datatypes.ErrInvalidInput)
		}
		cfg.ShutdownTimeout = d
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.TracingEnabled = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks range constraints.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", c.Port, datatypes.ErrInvalidInput)
	}
	if c.DecayHour < 0 || c.DecayHour > 23 {
		return fmt.Errorf("decay hour %d out of range: %w", c.DecayHour, datatypes.ErrInvalidInput)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %w", datatypes.ErrInvalidInput)
	}
	return nil
}
