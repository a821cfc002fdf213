package inventory

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seatswap/seatswap/internal/auth"
	"github.com/seatswap/seatswap/internal/idgen"
	"github.com/seatswap/seatswap/internal/validation"
)

// Handler provides HTTP endpoints for ticket listings.
type Handler struct {
	store Store
}

// NewHandler creates a new ticket handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public (read-only) ticket routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tickets/:id", h.GetTicket)
	r.GET("/sellers/:id/tickets", h.ListSellerTickets)
}

// RegisterProtectedRoutes sets up auth-required ticket routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/tickets", h.CreateTicket)
}

// CreateRequest contains the parameters for listing a ticket.
type CreateRequest struct {
	EventID       string     `json:"eventId" binding:"required"`
	PriceCents    int64      `json:"priceCents" binding:"required"`
	EventStartsAt *time.Time `json:"eventStartsAt"`
}

// CreateTicket handles POST /v1/tickets
func (h *Handler) CreateTicket(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("eventId", req.EventID),
		validation.PositiveAmount("priceCents", req.PriceCents),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	sellerID := c.GetString(auth.ContextKeyUserID)
	now := time.Now()
	t := &Ticket{
		ID:            idgen.WithPrefix("tkt_"),
		EventID:       req.EventID,
		SellerID:      sellerID,
		PriceCents:    req.PriceCents,
		Status:        StatusActive,
		EventStartsAt: req.EventStartsAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create ticket",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ticket": t})
}

// GetTicket handles GET /v1/tickets/:id
func (h *Handler) GetTicket(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Ticket not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

// ListSellerTickets handles GET /v1/sellers/:id/tickets
func (h *Handler) ListSellerTickets(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	tickets, err := h.store.ListBySeller(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tickets": tickets,
		"count":   len(tickets),
	})
}
