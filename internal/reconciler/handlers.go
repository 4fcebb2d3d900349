package reconciler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vsys-host/shkeeper-gateway/internal/metrics"
)

// Handler exposes the webhook callback endpoint.
type Handler struct {
	rec *Reconciler
}

// NewHandler creates a new callback handler.
func NewHandler(rec *Reconciler) *Handler {
	return &Handler{rec: rec}
}

// RegisterRoutes sets up the callback route.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/callback/shkeeper", h.Callback)
}

// Callback handles POST /callback/shkeeper.
//
// Responses carry no body: 202 means handled (including duplicate and
// scam no-ops), 204 means rejected, do not retry.
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(string(OutcomeMalformed)).Inc()
		c.Status(http.StatusNoContent)
		return
	}

	// Header lookup is canonicalized by net/http, so any casing of
	// X-Shkeeper-Api-Key matches.
	res := h.rec.Process(c.Request.Context(), Request{
		APIKey: c.GetHeader("X-Shkeeper-Api-Key"),
		Body:   body,
	})

	metrics.CallbacksTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == OutcomeApplied {
		metrics.SettlementsTotal.Inc()
		f, _ := res.Amount.Float64()
		metrics.SettledAmount.Observe(f)
	}

	c.Status(res.Code)
}
