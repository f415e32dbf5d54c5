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
	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

type decayRequest struct {
	AgentID string `json:"agentId"`
}

// TriggerDecay runs a decay pass synchronously, over one agent or all.
// This is the manual counterpart of the nightly scheduler run.
func TriggerDecay(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req decayRequest
		// An empty body means a full pass over every agent.
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, bindError(err))
				return
			}
		}
		stats, err := svc.TriggerDecay(c.Request.Context(), req.AgentID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

// ExpirationCandidates lists memories whose strength fell below the
// expiration threshold.
func ExpirationCandidates(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		candidates, err := svc.ExpirationCandidates(c.Request.Context(), c.Query("agentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		if candidates == nil {
			candidates = []datatypes.Memory{}
		}
		c.JSON(http.StatusOK, gin.H{"candidates": candidates, "count": len(candidates)})
	}
}

// PromoteArchival moves a memory into the slow-decay archival layer.
func PromoteArchival(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.PromoteArchival(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
