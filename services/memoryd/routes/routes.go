// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/memoryd/services/memoryd/core"
	"github.com/openclaw/memoryd/services/memoryd/handlers"
	"github.com/openclaw/memoryd/services/memoryd/middleware"
)

// SetupRoutes registers the full HTTP surface. /health and /metrics are
// unauthenticated; everything else requires the bearer key when one is
// configured.
func SetupRoutes(router *gin.Engine, svc *core.Service, apiKey string) {
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/")
	api.Use(middleware.AuthMiddleware(apiKey))
	{
		api.GET("/status", handlers.GetStatus(svc))

		api.POST("/remember", handlers.Remember(svc))
		api.GET("/recall", handlers.Recall(svc))
		api.DELETE("/forget/:id", handlers.Forget(svc))

		api.GET("/export", handlers.Export(svc))
		api.POST("/purge", handlers.Purge(svc))
		api.DELETE("/clear", handlers.Clear(svc))

		decay := api.Group("/decay")
		{
			decay.POST("", handlers.TriggerDecay(svc))
			decay.GET("/expiration-candidates", handlers.ExpirationCandidates(svc))
			decay.POST("/promote-archival/:id", handlers.PromoteArchival(svc))
		}

		reflect := api.Group("/reflect")
		{
			reflect.POST("", handlers.TriggerReflection(svc))
			reflect.GET("/jobs", handlers.ListJobs(svc))
			reflect.GET("/jobs/:id", handlers.GetJob(svc))
		}

		api.POST("/deduplicate", handlers.Deduplicate(svc))

		contradictions := api.Group("/contradictions")
		{
			contradictions.POST("/enhance", handlers.EnhanceContradictions(svc))
			contradictions.GET("/:memoryId", handlers.GetContradictions(svc))
		}

		entities := api.Group("/entities")
		{
			entities.GET("", handlers.ListEntities(svc))
			entities.GET("/search", handlers.SearchEntities(svc))
			entities.GET("/:slug", handlers.GetEntity(svc))
		}

		api.GET("/episodes", handlers.ListEpisodes(svc))
	}
}
