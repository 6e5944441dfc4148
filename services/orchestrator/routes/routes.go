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
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the health, metrics and dialogue endpoints. The
// /v1 group requires a token when auth is non-nil.
func SetupRoutes(router *gin.Engine, svc handlers.DialogueService, auth *middleware.TokenAuth) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(auth))
	{
		v1.GET("/jurisdictions", handlers.ListJurisdictions)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(svc))
			sessions.GET("/ws", handlers.HandleDialogueWebSocket(svc))
			sessions.GET("/:sessionId", handlers.GetSession(svc))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(svc))
			sessions.PUT("/:sessionId/jurisdiction", handlers.SetJurisdiction(svc))
			sessions.POST("/:sessionId/messages", handlers.PostMessage(svc))
			sessions.POST("/:sessionId/answers", handlers.PostAnswers(svc))
		}
	}
}
