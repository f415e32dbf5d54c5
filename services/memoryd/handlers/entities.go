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

// ListEntities returns the agent's entity hubs plus the unfiltered total.
func ListEntities(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q datatypes.EntityListQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, bindError(err))
			return
		}
		entities, total, err := svc.ListEntities(c.Request.Context(), q)
		if err != nil {
			respondError(c, err)
			return
		}
		if entities == nil {
			entities = []datatypes.Entity{}
		}
		c.JSON(http.StatusOK, gin.H{"entities": entities, "total": total})
	}
}

// GetEntity returns one entity hub with its linked memories.
func GetEntity(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.GetEntity(c.Request.Context(), c.Query("agentId"), c.Param("slug"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// SearchEntities matches slug, name, and aliases against q, ranked by
// memory count.
func SearchEntities(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		entities, err := svc.SearchEntities(c.Request.Context(), c.Query("agentId"), c.Query("q"), intQuery(c, "limit"))
		if err != nil {
			respondError(c, err)
			return
		}
		if entities == nil {
			entities = []datatypes.Entity{}
		}
		c.JSON(http.StatusOK, gin.H{"entities": entities})
	}
}
