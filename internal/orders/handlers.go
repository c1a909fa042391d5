package orders

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/waveform-market/waveform/internal/identity"
)

// Handler provides HTTP endpoints for the order workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new orders handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/disputes/:id", h.GetDispute)
}

// RegisterProtectedRoutes sets up auth-required order routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/users/:id/orders", h.ListUserOrders)
	r.POST("/orders/:id/confirm", h.ConfirmReceipt)
	r.POST("/orders/:id/dispute", h.OpenDispute)
}

// RegisterAdminRoutes sets up admin-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListDisputes)
	r.POST("/disputes/:id/review", h.ReviewDispute)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
	r.POST("/disputes/:id/close", h.CloseDispute)
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "productId is required",
		})
		return
	}

	order, err := h.service.Create(c.Request.Context(), identity.UserID(c), req.ProductID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrProductNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrSelfPurchase), errors.Is(err, ErrProductNotPriced):
			status = http.StatusBadRequest
			code = "validation_error"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListUserOrders handles GET /v1/users/:id/orders
//
// Order history is visible to its owner and to admins only.
func (h *Handler) ListUserOrders(c *gin.Context) {
	p, ok := identity.FromContext(c)
	if !ok || (p.UserID != c.Param("id") && !p.IsAdmin()) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "You may only list your own orders",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	orders, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// ConfirmReceipt handles POST /v1/orders/:id/confirm
func (h *Handler) ConfirmReceipt(c *gin.Context) {
	order, err := h.service.ConfirmReceipt(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// OpenDispute handles POST /v1/orders/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}

	dispute, err := h.service.OpenDispute(c.Request.Context(), c.Param("id"), identity.UserID(c), req.Reason, req.Description)
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": dispute})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	dispute, err := h.service.GetDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// ListDisputes handles GET /v1/disputes?status=open
func (h *Handler) ListDisputes(c *gin.Context) {
	status := DisputeStatus(c.DefaultQuery("status", string(DisputeOpen)))

	disputes, err := h.service.ListDisputes(c.Request.Context(), status, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ReviewDispute handles POST /v1/disputes/:id/review
func (h *Handler) ReviewDispute(c *gin.Context) {
	dispute, err := h.service.MarkUnderReview(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution is required (refund_buyer or pay_seller)",
		})
		return
	}

	dispute, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), identity.UserID(c), req.Resolution, req.Notes)
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// CloseDispute handles POST /v1/disputes/:id/close
func (h *Handler) CloseDispute(c *gin.Context) {
	dispute, err := h.service.CloseDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// writeOrderError maps workflow errors onto stable HTTP error codes.
func (h *Handler) writeOrderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrDisputeNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrMissingReason):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrDisputeExists), errors.Is(err, ErrFundsFinal),
		errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
