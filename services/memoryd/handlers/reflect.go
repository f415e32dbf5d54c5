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

// TriggerReflection enqueues a reflection job over the posted transcript
// and returns its ID. The job runs asynchronously via the scheduler.
func TriggerReflection(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReflectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		jobID, err := svc.TriggerReflection(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "jobId": jobID})
	}
}

// ListJobs returns the agent's reflection jobs, most recent first.
func ListJobs(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobsList, err := svc.ListJobs(c.Request.Context(), c.Query("agentId"), intQuery(c, "limit"))
		if err != nil {
			respondError(c, err)
			return
		}
		if jobsList == nil {
			jobsList = []datatypes.ReflectionJob{}
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobsList, "count": len(jobsList)})
	}
}

// GetJob returns one reflection job with its full stage transcript.
func GetJob(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.GetJob(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
