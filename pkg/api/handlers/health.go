package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports database and cache reachability
type HealthHandler struct {
	db    Pinger
	cache Pinger // nil when the cache is disabled
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Health godoc
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	dbStatus := "up"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "down"
	}

	cacheStatus := "disabled"
	if h.cache != nil {
		cacheStatus = "up"
		if err := h.cache.Ping(ctx); err != nil {
			cacheStatus = "down"
		}
	}

	// The cache is optional; entitlements fall through to the store without it
	if dbStatus == "down" {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": dbStatus,
			"cache":    cacheStatus,
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": dbStatus,
		"cache":    cacheStatus,
	})
}
