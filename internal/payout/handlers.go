package payout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatswap/seatswap/internal/auth"
)

// Handler exposes payout runs to the cron scheduler and batch lookups to
// operators.
type Handler struct {
	batcher *Batcher
}

func NewHandler(batcher *Batcher) *Handler {
	return &Handler{batcher: batcher}
}

// RegisterCronRoutes sets up the cron-triggered payout route.
func (h *Handler) RegisterCronRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/run", h.Run)
}

// RegisterProtectedRoutes sets up auth-required payout routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/payouts/batches/:id", h.GetBatch)
}

// Run handles POST /v1/cron/payouts/run
// The batch records the triggering operator's actor id when one is present
// on the request; otherwise the run is attributed to the cron scheduler.
func (h *Handler) Run(c *gin.Context) {
	runBy := c.GetString(auth.ContextKeyUserID)
	if runBy == "" {
		runBy = "cron"
	}
	result, err := h.batcher.Run(c.Request.Context(), runBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Payout run failed",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetBatch handles GET /v1/payouts/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	batch, transfers, err := h.batcher.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payout batch not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load payout batch",
		})
		return
	}
	if transfers == nil {
		transfers = []*Transfer{}
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "transfers": transfers})
}
