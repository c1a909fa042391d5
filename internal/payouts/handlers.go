package payouts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waveform-market/waveform/internal/identity"
	"github.com/waveform-market/waveform/internal/validation"
)

// Handler provides HTTP endpoints for payout settlement.
type Handler struct {
	service *Service
}

// NewHandler creates a new payout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required payout routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payouts", h.RequestPayout)
	r.GET("/payouts/:id", h.GetPayout)
	r.GET("/sellers/:id/payouts", h.ListSellerPayouts)
	r.GET("/sellers/:id/balance", h.GetBalance)
}

// RegisterAdminRoutes sets up admin-only payout processing routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/:id/process", h.ProcessPayout)
	r.POST("/payouts/:id/complete", h.CompletePayout)
	r.POST("/payouts/:id/fail", h.FailPayout)
}

// RequestPayout handles POST /v1/payouts
func (h *Handler) RequestPayout(c *gin.Context) {
	var req RequestPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount and bankAccount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("bankAccount", req.BankAccount),
		validation.ValidAmount("amount", req.Amount),
		validation.ValidCurrency("currency", req.Currency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	payout, err := h.service.Request(c.Request.Context(), identity.UserID(c), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrBelowMinimum),
			errors.Is(err, ErrMissingBankAccount):
			status = http.StatusBadRequest
			code = "validation_error"
		case errors.Is(err, ErrInsufficientBalance):
			status = http.StatusConflict
			code = "insufficient_balance"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payout": payout})
}

// GetPayout handles GET /v1/payouts/:id
func (h *Handler) GetPayout(c *gin.Context) {
	payout, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payout not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	// Only the owner or an admin may see a payout record
	principal, ok := identity.FromContext(c)
	if !ok || (payout.ArtistID != principal.UserID && !principal.IsAdmin()) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not your payout",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

// ListSellerPayouts handles GET /v1/sellers/:id/payouts
func (h *Handler) ListSellerPayouts(c *gin.Context) {
	sellerID := c.Param("id")
	principal, ok := identity.FromContext(c)
	if !ok || (sellerID != principal.UserID && !principal.IsAdmin()) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not your payout history",
		})
		return
	}

	payouts, err := h.service.ListBySeller(c.Request.Context(), sellerID, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

// GetBalance handles GET /v1/sellers/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	sellerID := c.Param("id")
	principal, ok := identity.FromContext(c)
	if !ok || (sellerID != principal.UserID && !principal.IsAdmin()) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not your balance",
		})
		return
	}

	balance, err := h.service.AvailableBalance(c.Request.Context(), sellerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sellerId":         sellerID,
		"availableBalance": balance,
	})
}

// ProcessPayout handles POST /v1/payouts/:id/process
func (h *Handler) ProcessPayout(c *gin.Context) {
	payout, err := h.service.MarkProcessing(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

// CompletePayout handles POST /v1/payouts/:id/complete
func (h *Handler) CompletePayout(c *gin.Context) {
	payout, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

// FailPayout handles POST /v1/payouts/:id/fail
func (h *Handler) FailPayout(c *gin.Context) {
	var req FailRequest
	_ = c.ShouldBindJSON(&req)

	payout, err := h.service.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

func (h *Handler) writeTransitionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
