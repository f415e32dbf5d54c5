// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memoryd/services/memoryd/core"
	"github.com/openclaw/memoryd/services/memoryd/embed"
	"github.com/openclaw/memoryd/services/memoryd/jobs"
	"github.com/openclaw/memoryd/services/memoryd/store"
)

func newRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	s := store.NewMemory()
	svc := core.NewService(s, embed.NewMock(64), jobs.NewQueue(s), nil, "test", slog.Default())
	router := gin.New()
	SetupRoutes(router, svc, apiKey)
	return router
}

func TestSetupRoutes_RegistersFullSurface(t *testing.T) {
	router := newRouter("")

	want := []string{
		"GET /health",
		"GET /metrics",
		"GET /status",
		"POST /remember",
		"GET /recall",
		"DELETE /forget/:id",
		"GET /export",
		"POST /purge",
		"DELETE /clear",
		"POST /decay",
		"GET /decay/expiration-candidates",
		"POST /decay/promote-archival/:id",
		"POST /reflect",
		"GET /reflect/jobs",
		"GET /reflect/jobs/:id",
		"POST /deduplicate",
		"POST /contradictions/enhance",
		"GET /contradictions/:memoryId",
		"GET /entities",
		"GET /entities/search",
		"GET /entities/:slug",
		"GET /episodes",
	}

	registered := map[string]bool{}
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, key := range want {
		assert.True(t, registered[key], "missing route %s", key)
	}
}

func TestSetupRoutes_AuthCoverage(t *testing.T) {
	router := newRouter("secret")

	// Health and metrics stay open.
	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// Everything else requires the key.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
