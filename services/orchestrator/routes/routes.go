// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/fitbeat/services/orchestrator/handlers"
	"github.com/AleutianAI/fitbeat/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
)

// Dependencies are the handlers' collaborators.
type Dependencies struct {
	Recommender handlers.Recommender
	Memory      handlers.MemoryStore
	Health      handlers.HealthReporter

	// Metrics serves /metrics. Nil disables the endpoint.
	Metrics http.Handler

	// APIToken protects /v1 when non-empty.
	APIToken string
}

// SetupRoutes registers every endpoint on router. The memory routes are
// only registered when Memory is set.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck(deps.Health))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.TokenAuth(deps.APIToken))
	{
		v1.POST("/playlist", handlers.HandleRecommend(deps.Recommender))

		if deps.Memory != nil {
			memory := v1.Group("/memory")
			{
				memory.GET("/:sessionId", handlers.GetMemory(deps.Memory))
				memory.DELETE("/:sessionId", handlers.ClearMemory(deps.Memory))
			}
		}
	}
}
