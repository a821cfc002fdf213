package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seatswap/seatswap/internal/auth"
	"github.com/seatswap/seatswap/internal/inventory"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/pagination"
	"github.com/seatswap/seatswap/internal/payment"
	"github.com/seatswap/seatswap/internal/validation"
)

// Handler provides HTTP endpoints for the order lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new lifecycle handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required lifecycle routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/checkout", h.Checkout)
	r.POST("/payments/confirm", h.ConfirmPayment)
	r.POST("/payments/cancel", h.CancelPayment)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/approve", h.ApproveOrder)
	r.POST("/orders/:id/dispute", h.DisputeOrder)
	r.GET("/orders", h.ListOrders)
}

// CheckoutRequest starts a purchase of a single ticket.
type CheckoutRequest struct {
	TicketID string `json:"ticketId" binding:"required"`
}

// Checkout handles POST /v1/checkout
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidID("ticketId", req.TicketID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	buyerID := c.GetString(auth.ContextKeyUserID)
	result, err := h.service.Checkout(c.Request.Context(), buyerID, req.TicketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// PaymentRequest targets a payment operation at one order.
type PaymentRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

// ConfirmPayment handles POST /v1/payments/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := c.GetString(auth.ContextKeyUserID)
	o, outcome, err := h.service.ConfirmPayment(c.Request.Context(), req.OrderID, callerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "outcome": outcome})
}

// CancelPayment handles POST /v1/payments/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := c.GetString(auth.ContextKeyUserID)
	o, err := h.service.CancelPayment(c.Request.Context(), req.OrderID, callerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	callerID := c.GetString(auth.ContextKeyUserID)
	o, err := h.service.Get(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ApproveOrder handles POST /v1/orders/:id/approve
func (h *Handler) ApproveOrder(c *gin.Context) {
	callerID := c.GetString(auth.ContextKeyUserID)
	o, err := h.service.Approve(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// DisputeRequest carries the buyer's dispute reason.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisputeOrder handles POST /v1/orders/:id/dispute
func (h *Handler) DisputeOrder(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	callerID := c.GetString(auth.ContextKeyUserID)
	o, err := h.service.Dispute(c.Request.Context(), c.Param("id"), callerID, validation.SanitizeString(req.Reason, validation.MaxReasonLength))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ListOrders handles GET /v1/orders?role=buyer|seller
func (h *Handler) ListOrders(c *gin.Context) {
	callerID := c.GetString(auth.ContextKeyUserID)
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid cursor",
		})
		return
	}

	// Fetch one past the limit so the page knows whether more follow.
	var orders []*order.Order
	switch c.DefaultQuery("role", "buyer") {
	case "seller":
		orders, err = h.service.ListSales(c.Request.Context(), callerID, cursor, limit+1)
	case "buyer":
		orders, err = h.service.ListPurchases(c.Request.Context(), callerID, cursor, limit+1)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "role must be buyer or seller",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	orders, nextCursor, hasMore := pagination.ComputePage(orders, limit, func(o *order.Order) (time.Time, string) {
		return o.CreatedAt, o.ID
	})
	if orders == nil {
		orders = []*order.Order{}
	}
	resp := gin.H{"orders": orders, "count": len(orders), "hasMore": hasMore}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// respondError maps service errors onto the HTTP error envelope.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, inventory.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Order or ticket not found",
		})
	case errors.Is(err, ErrNotBuyer), errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Not authorized for this order",
		})
	case errors.Is(err, ErrOwnTicket):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Cannot buy your own ticket",
		})
	case errors.Is(err, ErrTicketUnavailable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "ticket_unavailable",
			"message": "Ticket is no longer available",
		})
	case errors.Is(err, order.ErrOrderConflict), errors.Is(err, order.ErrIllegalTransition),
		errors.Is(err, ErrNoSession), errors.Is(err, inventory.ErrTicketConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Order is not in a state that allows this operation",
		})
	case errors.Is(err, payment.ErrProviderUnavailable), errors.Is(err, payment.ErrCircuitOpen):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_unavailable",
			"message": "Payment provider is temporarily unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
