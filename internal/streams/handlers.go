package streams

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waveform-market/waveform/internal/identity"
)

// Handler provides HTTP endpoints for stream recording and revenue queries.
type Handler struct {
	service *Service
}

// NewHandler creates a new streams handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public stream routes. Recording is open to
// anonymous listeners: identity-less plays are logged but never earn.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/streams", h.RecordStream)
	r.GET("/tracks/:id/streams", h.ListTrackStreams)
	r.GET("/artists/:id/revenue", h.GetArtistRevenue)
}

// RegisterAdminRoutes sets up admin-only revenue routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/revenue", h.AddRevenue)
}

// RecordStream handles POST /v1/streams
func (h *Handler) RecordStream(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "trackId is required",
		})
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = c.ClientIP()
	}

	result, err := h.service.Record(c.Request.Context(), identity.UserID(c), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrStreamTooShort):
			status = http.StatusBadRequest
			code = "validation_error"
		case errors.Is(err, ErrTrackNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ListTrackStreams handles GET /v1/tracks/:id/streams
func (h *Handler) ListTrackStreams(c *gin.Context) {
	logs, err := h.service.ListByTrack(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": logs,
		"count":   len(logs),
	})
}

// GetArtistRevenue handles GET /v1/artists/:id/revenue
func (h *Handler) GetArtistRevenue(c *gin.Context) {
	entries, total, err := h.service.ArtistRevenue(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
		"count":   len(entries),
	})
}

type addRevenueRequest struct {
	ArtistID string        `json:"artistId" binding:"required"`
	Source   RevenueSource `json:"source" binding:"required"`
	Amount   string        `json:"amount" binding:"required"`
	TrackID  string        `json:"trackId"`
}

// AddRevenue handles POST /v1/revenue (admin) for non-stream earnings.
func (h *Handler) AddRevenue(c *gin.Context) {
	var req addRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "artistId, source and amount are required",
		})
		return
	}

	entry, err := h.service.AddRevenue(c.Request.Context(), req.ArtistID, req.Source, req.Amount, req.TrackID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrInvalidSource) || errors.Is(err, ErrInvalidAmount) {
			status = http.StatusBadRequest
			code = "validation_error"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}
