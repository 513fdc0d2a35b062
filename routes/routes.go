// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/benedictbihl/virtual-me-backend/handlers"
	"github.com/benedictbihl/virtual-me-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the API surface. The CORS middleware answers the
// OPTIONS preflight for /chat, so only the POST needs a handler here.
func SetupRoutes(router *gin.Engine, pipeline *services.ChatPipeline) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewChatHandler(pipeline)
	router.POST("/chat", chatHandler.HandleChatStream)
}
