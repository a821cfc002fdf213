package sellers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatswap/seatswap/internal/auth"
	"github.com/seatswap/seatswap/internal/validation"
)

// Handler provides HTTP endpoints for the seller payout registry.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required seller routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.PUT("/sellers/:id/payout-account", h.SetPayoutAccount)
	r.GET("/sellers/:id", h.GetSeller)
}

// PayoutAccountRequest registers a payout destination.
type PayoutAccountRequest struct {
	PayoutAccount string `json:"payoutAccount" binding:"required"`
	DisplayName   string `json:"displayName"`
}

// SetPayoutAccount handles PUT /v1/sellers/:id/payout-account
func (h *Handler) SetPayoutAccount(c *gin.Context) {
	id := c.Param("id")
	if c.GetString(auth.ContextKeyUserID) != id {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Sellers can only manage their own payout account",
		})
		return
	}

	var req PayoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("payoutAccount", req.PayoutAccount),
		validation.MaxLength("payoutAccount", req.PayoutAccount, 256),
		validation.MaxLength("displayName", req.DisplayName, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	seller, err := h.service.Register(c.Request.Context(), id,
		validation.SanitizeString(req.DisplayName, 128), req.PayoutAccount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register payout account",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seller": seller})
}

// GetSeller handles GET /v1/sellers/:id
func (h *Handler) GetSeller(c *gin.Context) {
	id := c.Param("id")
	if c.GetString(auth.ContextKeyUserID) != id {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Sellers can only view their own registration",
		})
		return
	}

	seller, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSellerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Seller not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load seller",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seller": seller})
}
