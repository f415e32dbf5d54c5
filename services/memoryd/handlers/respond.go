// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin handlers of the memory daemon.
//
// Every handler is a closure over its dependencies, returning a
// gin.HandlerFunc. Responses use a uniform envelope: successes carry
// `{"success": true, ...}`, failures `{"success": false, "error": ..,
// "details"?: ..}`.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// respondError converts a known error into its HTTP status and the
// standard failure envelope. Unknown errors become a generic 500 so
// internals never leak to clients.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, datatypes.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid input",
			"details": err.Error(),
		})
	case errors.Is(err, datatypes.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not found",
		})
	case errors.Is(err, datatypes.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "unauthorized",
		})
	case errors.Is(err, datatypes.ErrEmbedderFailed), errors.Is(err, datatypes.ErrLLMFailed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "upstream provider unavailable",
		})
	case errors.Is(err, datatypes.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"success": false,
			"error":   "timeout",
		})
	default:
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal error",
		})
	}
}

// bindError wraps a Gin binding failure so respondError maps it to 400.
func bindError(err error) error {
	return &bindFailure{err: err}
}

type bindFailure struct{ err error }

func (b *bindFailure) Error() string { return b.err.Error() }

func (b *bindFailure) Unwrap() error { return datatypes.ErrInvalidInput }
