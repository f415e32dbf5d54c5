// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 7654, cfg.Port)
	assert.Equal(t, "openclaw_memory", cfg.MongoDBName)
	assert.Equal(t, 2, cfg.DecayHour)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.MockEmbedder, "no Voyage key means mock embedder")
	assert.False(t, cfg.TracingEnabled, "no OTLP endpoint means tracing stays off")
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MEMORY_DAEMON_PORT", "9000")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("MONGODB_DB_NAME", "custom")
	t.Setenv("MEMORY_API_KEY", "secret")
	t.Setenv("VOYAGE_API_KEY", "vk")
	t.Setenv("VOYAGE_MODEL", "voyage-3-large")
	t.Setenv("LLM_ENDPOINT", "http://localhost:11434/v1")
	t.Setenv("MEMORY_DECAY_HOUR", "4")
	t.Setenv("MEMORY_SHUTDOWN_TIMEOUT", "10s")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "custom", cfg.MongoDBName)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "voyage-3-large", cfg.VoyageModel)
	assert.False(t, cfg.MockEmbedder)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLMEndpoint)
	assert.Equal(t, 4, cfg.DecayHour)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.TracingEnabled)
}

func TestFromEnv_MockOverridesRealKey(t *testing.T) {
	t.Setenv("VOYAGE_API_KEY", "vk")
	t.Setenv("VOYAGE_MOCK", "1")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.MockEmbedder)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("MEMORY_DAEMON_PORT", "not-a-number")
	_, err := FromEnv()
	assert.ErrorIs(t, err, datatypes.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.ErrorIs(t, cfg.Validate(), datatypes.ErrInvalidInput)

	cfg = Default()
	cfg.DecayHour = 24
	assert.ErrorIs(t, cfg.Validate(), datatypes.ErrInvalidInput)

	cfg = Default()
	cfg.ShutdownTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), datatypes.ErrInvalidInput)
}
