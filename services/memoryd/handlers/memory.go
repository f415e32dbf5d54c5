// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/memoryd/services/memoryd/core"
	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Remember stores one memory and returns its ID.
func Remember(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RememberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		id, err := svc.Remember(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
	}
}

// Recall returns the agent's memories ranked against the query, plus
// the retrieval method actually taken.
func Recall(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q datatypes.RecallQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, bindError(err))
			return
		}
		results, method, err := svc.Recall(c.Request.Context(), q)
		if err != nil {
			respondError(c, err)
			return
		}
		if results == nil {
			results = []datatypes.RecallResult{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"results": results,
			"count":   len(results),
			"method":  method,
		})
	}
}

// Forget deletes a memory and its pending edges.
func Forget(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Forget(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// Export returns every memory of the agent.
func Export(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		memories, err := svc.Export(c.Request.Context(), c.Query("agentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		if memories == nil {
			memories = []datatypes.Memory{}
		}
		c.JSON(http.StatusOK, gin.H{"count": len(memories), "memories": memories})
	}
}

// Purge deletes the agent's memories created before olderThan.
func Purge(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PurgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		deleted, err := svc.Purge(c.Request.Context(), req.AgentID, req.OlderThan)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// Clear deletes every memory of the agent.
func Clear(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := svc.Clear(c.Request.Context(), c.Query("agentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// ListEpisodes returns the agent's session narratives, newest first.
func ListEpisodes(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit")
		episodes, err := svc.ListEpisodes(c.Request.Context(), c.Query("agentId"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if episodes == nil {
			episodes = []datatypes.Episode{}
		}
		c.JSON(http.StatusOK, gin.H{"episodes": episodes, "count": len(episodes)})
	}
}

// intQuery parses an optional integer query parameter, returning 0 when
// absent or malformed so the service applies its default.
func intQuery(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
