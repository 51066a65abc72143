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
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthReporter describes the service's dependencies for /health.
type HealthReporter interface {
	// CatalogSize is the number of tracks currently loaded.
	CatalogSize() int

	// OracleState is the LLM circuit breaker state ("closed", "open",
	// "half-open").
	OracleState() string

	// VectorIndex names the index backend ("weaviate" or "memory").
	VectorIndex() string
}

// HealthCheck serves GET /health. The service is healthy when a catalog is
// loaded; an open oracle circuit only degrades refinement.
func HealthCheck(h HealthReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if h.CatalogSize() == 0 {
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else if h.OracleState() == "open" {
			status = "degraded"
		}
		c.JSON(code, gin.H{
			"status":       status,
			"catalog_size": h.CatalogSize(),
			"oracle":       h.OracleState(),
			"vector_index": h.VectorIndex(),
		})
	}
}
