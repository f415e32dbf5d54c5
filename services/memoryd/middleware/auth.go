// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the memory daemon.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header and compares it against the configured API key in constant
// time. Health and metrics routes are registered outside the
// authenticated group and never pass through it.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   └─► Constant-time compare against the configured key
//	           │
//	           ▼
//	       Handler
//
// An empty configured key disables authentication entirely, which is
// the local single-user mode.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// AuthMiddleware creates a Gin middleware enforcing the bearer API key.
//
// # Description
//
// Compares the request's bearer token against apiKey. On mismatch the
// request is aborted with 401 and the standard error envelope. When
// apiKey is empty every request passes.
//
// # Inputs
//
//   - apiKey: The shared secret. Empty disables authentication.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		token := extractBearerToken(c)
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   datatypes.ErrUnauthorized.Error(),
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken parses the Authorization header expecting
// "Bearer <token>". The scheme is case-insensitive per RFC 7235.
// Returns empty string if the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
