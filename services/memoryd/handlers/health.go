// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/memoryd/services/memoryd/core"
)

// HealthCheck is the unauthenticated liveness probe.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus reports daemon health depth: uptime, corpus size, store
// reachability, embedder mode, and queue backlog.
func GetStatus(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := svc.Status(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
