package reclaimer

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes the reclaimer to the cron scheduler.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterCronRoutes sets up the cron-triggered reclaim route.
func (h *Handler) RegisterCronRoutes(r *gin.RouterGroup) {
	r.POST("/release-stale-holds", h.Release)
}

// Release handles POST /v1/cron/release-stale-holds
// An optional ?ttl= query param (minutes) overrides the configured hold TTL
// for this sweep.
func (h *Handler) Release(c *gin.Context) {
	var ttl time.Duration
	if raw := c.Query("ttl"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "ttl must be a positive number of minutes",
			})
			return
		}
		ttl = time.Duration(minutes) * time.Minute
	}

	released, err := h.service.Run(c.Request.Context(), ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Reclaim sweep failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}
