// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the backend service.
//
// # CORS Flow
//
// The CORS middleware attaches cross-origin headers to every response and
// short-circuits preflight requests so that browser clients can call the
// streaming chat endpoint directly.
//
//	Request
//	   │
//	   ▼
//	CORSMiddleware
//	   │
//	   ├─► Set Access-Control-Allow-* headers
//	   │
//	   ├─► OPTIONS? ──► respond 200, abort chain
//	   │
//	   └─► Continue to handler
package middleware

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// CORS Configuration
// =============================================================================

// defaultAllowedOrigin permits any origin. Override with CORS_ALLOWED_ORIGIN
// to restrict the API to a single frontend deployment.
const defaultAllowedOrigin = "*"

// allowedHeaders lists the request headers browser clients are permitted
// to send, matching what the frontend attaches to chat requests.
const allowedHeaders = "authorization, x-client-info, apikey, content-type"

// allowedMethods covers the chat endpoint plus its preflight.
const allowedMethods = "POST, OPTIONS"

// AllowedOrigin returns the origin the API accepts cross-origin requests
// from, falling back to the permissive default when unset.
func AllowedOrigin() string {
	if origin := os.Getenv("CORS_ALLOWED_ORIGIN"); origin != "" {
		return origin
	}
	return defaultAllowedOrigin
}

// =============================================================================
// CORS Middleware
// =============================================================================

// CORSMiddleware creates a Gin middleware that handles cross-origin requests.
//
// # Description
//
// Sets the Access-Control-Allow-* headers on every response and answers
// OPTIONS preflight requests with 200 without invoking the route handler.
// Preflights succeed even for routes that only register POST, so the
// middleware must run before routing-level method checks.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	router := gin.Default()
//	router.Use(middleware.CORSMiddleware())
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func CORSMiddleware() gin.HandlerFunc {
	origin := AllowedOrigin()
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		c.Header("Access-Control-Allow-Methods", allowedMethods)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
