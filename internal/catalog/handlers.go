package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waveform-market/waveform/internal/identity"
	"github.com/waveform-market/waveform/internal/validation"
)

// Handler provides HTTP endpoints for catalog management.
type Handler struct {
	service *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/products/:id", h.GetProduct)
	r.GET("/sellers/:id/products", h.ListSellerProducts)
	r.GET("/tracks/:id", h.GetTrack)
	r.GET("/artists/:id/tracks", h.ListArtistTracks)
}

// RegisterProtectedRoutes sets up auth-required catalog routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/products", h.CreateProduct)
	r.POST("/products/:id/activate", h.setActive(true))
	r.POST("/products/:id/deactivate", h.setActive(false))
	r.POST("/tracks", h.CreateTrack)
}

// CreateProduct handles POST /v1/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "title and price are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.ValidAmount("price", req.Price),
		validation.ValidCurrency("currency", req.Currency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	req.Title = validation.SanitizeString(req.Title, 200)
	req.Description = validation.SanitizeString(req.Description, 1000)

	product, err := h.service.CreateProduct(c.Request.Context(), identity.UserID(c), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrInvalidPrice) || errors.Is(err, ErrMissingTitle) || errors.Is(err, ErrMissingOwner) {
			status = http.StatusBadRequest
			code = "validation_error"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// GetProduct handles GET /v1/products/:id
func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Product not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product})
}

func (h *Handler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		product, err := h.service.SetProductActive(c.Request.Context(), c.Param("id"), identity.UserID(c), active)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "Product not found",
				})
				return
			}
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"product": product})
	}
}

// ListSellerProducts handles GET /v1/sellers/:id/products
func (h *Handler) ListSellerProducts(c *gin.Context) {
	products, err := h.service.ListProductsBySeller(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
	})
}

// CreateTrack handles POST /v1/tracks
func (h *Handler) CreateTrack(c *gin.Context) {
	var req CreateTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "title is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("title", req.Title),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	req.Title = validation.SanitizeString(req.Title, 200)

	track, err := h.service.CreateTrack(c.Request.Context(), identity.UserID(c), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrMissingTitle) || errors.Is(err, ErrMissingOwner) {
			status = http.StatusBadRequest
			code = "validation_error"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"track": track})
}

// GetTrack handles GET /v1/tracks/:id
func (h *Handler) GetTrack(c *gin.Context) {
	track, err := h.service.GetTrack(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Track not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"track": track})
}

// ListArtistTracks handles GET /v1/artists/:id/tracks
func (h *Handler) ListArtistTracks(c *gin.Context) {
	tracks, err := h.service.ListTracksByArtist(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tracks": tracks,
		"count":  len(tracks),
	})
}
