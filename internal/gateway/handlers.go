package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/waveform-market/waveform/internal/logging"
	"github.com/waveform-market/waveform/internal/orders"
)

// SignatureHeader carries the webhook signature on incoming deliveries.
const SignatureHeader = "Waveform-Signature"

// maxWebhookBody caps webhook payloads at 64 KiB.
const maxWebhookBody = 64 << 10

// Handler terminates the payment provider's webhook endpoint.
type Handler struct {
	service *Service
	secret  string
}

// NewHandler creates a new webhook handler. An empty secret disables
// signature verification; config validation forbids that in production.
func NewHandler(service *Service, secret string) *Handler {
	return &Handler{service: service, secret: secret}
}

// RegisterRoutes sets up the webhook route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/gateway", h.HandleWebhook)
	r.GET("/orders/:id/events", h.ListOrderEvents)
}

// HandleWebhook handles POST /v1/webhooks/gateway
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	if h.secret != "" {
		if err := VerifySignature(body, c.GetHeader(SignatureHeader), h.secret, time.Now()); err != nil {
			logging.L(c.Request.Context()).Warn("rejected gateway webhook",
				"remote", c.ClientIP(), "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_signature",
				"message": "Webhook signature verification failed",
			})
			return
		}
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil || event.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed event payload",
		})
		return
	}
	if event.ID == "" {
		event.ID = "evt_" + uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := h.service.Process(c.Request.Context(), &event); err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrUnknownEventType), errors.Is(err, ErrMissingOrderID):
			status = http.StatusBadRequest
			code = "validation_error"
		case errors.Is(err, orders.ErrOrderNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, orders.ErrInvalidStatus), errors.Is(err, orders.ErrConflict):
			status = http.StatusConflict
			code = "conflict"
		case errors.Is(err, ErrChargeNotVerified):
			status = http.StatusUnprocessableEntity
			code = "charge_not_verified"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "eventId": event.ID})
}

// ListOrderEvents handles GET /v1/orders/:id/events (admin audit trail).
func (h *Handler) ListOrderEvents(c *gin.Context) {
	events, err := h.service.EventsByOrder(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
