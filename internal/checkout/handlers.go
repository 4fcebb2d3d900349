package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vsys-host/shkeeper-gateway/internal/billing"
	"github.com/vsys-host/shkeeper-gateway/internal/validation"
)

// Handler provides HTTP endpoints for the checkout flow.
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the checkout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cryptos", h.ListCryptos)
	r.POST("/invoices/:id/payment-request", h.CreatePaymentRequest)
	r.GET("/tx/:txid", validation.TxIDParamMiddleware(), h.TxInfo)
}

// ListCryptos handles GET /v1/cryptos
func (h *Handler) ListCryptos(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListCryptos(c.Request.Context()))
}

// CreatePaymentRequestBody is the request body for creating a payment request.
type CreatePaymentRequestBody struct {
	Crypto string `json:"crypto" binding:"required"`
}

// CreatePaymentRequest handles POST /v1/invoices/:id/payment-request
func (h *Handler) CreatePaymentRequest(c *gin.Context) {
	var body CreatePaymentRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "crypto is required",
		})
		return
	}

	if verrs := validation.Validate(
		validation.Required("crypto", body.Crypto),
		validation.ValidCrypto("crypto", body.Crypto),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
		})
		return
	}

	invoiceID := validation.SanitizeString(c.Param("id"), 64)

	details, err := h.service.CreatePaymentRequest(c.Request.Context(), invoiceID, body.Crypto)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvoiceNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "invoice_not_found",
				"message": "No such invoice",
			})
		case errors.Is(err, ErrGatewayUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "gateway_unavailable",
				"message": ErrGatewayUnavailable.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to create payment request",
			})
		}
		return
	}

	c.JSON(http.StatusOK, details)
}

// TxInfo handles GET /v1/tx/:txid
func (h *Handler) TxInfo(c *gin.Context) {
	info, err := h.service.TxInfo(c.Request.Context(), c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_unavailable",
			"message": ErrGatewayUnavailable.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, info)
}
