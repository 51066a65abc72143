// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MemoryStore exposes a session's conversation memory.
// conversation.Memory implements it.
type MemoryStore interface {
	Summary(ctx context.Context, session string) (string, error)
	Clear(ctx context.Context, session string) error
}

// GetMemory serves GET /v1/memory/:sessionId.
func GetMemory(m MemoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		summary, err := m.Summary(c.Request.Context(), session)
		if err != nil {
			slog.Error("Failed to load memory", "session", session, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load memory"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": session, "summary": summary})
	}
}

// ClearMemory serves DELETE /v1/memory/:sessionId.
func ClearMemory(m MemoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		if err := m.Clear(c.Request.Context(), session); err != nil {
			slog.Error("Failed to clear memory", "session", session, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear memory"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
