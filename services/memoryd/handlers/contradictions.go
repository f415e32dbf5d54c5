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

// Deduplicate runs the global text-dedup pass on demand. With dryRun the
// groups are reported but nothing is merged or removed.
func Deduplicate(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DeduplicateRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, bindError(err))
				return
			}
		}
		groups, removed, err := svc.Deduplicate(c.Request.Context(), req.AgentID, req.DryRun)
		if err != nil {
			respondError(c, err)
			return
		}
		if groups == nil {
			groups = []datatypes.DedupGroup{}
		}
		c.JSON(http.StatusOK, gin.H{
			"duplicatesFound": len(groups),
			"memoriesRemoved": removed,
			"dryRun":          req.DryRun,
			"details":         groups,
		})
	}
}

// EnhanceContradictions fills explanation and severity on unexplained
// contradictions via the LLM explainer.
func EnhanceContradictions(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.EnhanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		enhanced, err := svc.EnhanceContradictions(c.Request.Context(), req.AgentID, req.Limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"enhanced": enhanced})
	}
}

// GetContradictions returns a memory with each contradiction target's
// current text resolved.
func GetContradictions(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.GetMemoryWithContradictions(c.Request.Context(), c.Param("memoryId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
