package reconciler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupCallbackRouter(t *testing.T) (*gin.Engine, *Reconciler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := newTestStore()
	rec := newTestReconciler(store, false)
	router := gin.New()
	NewHandler(rec).RegisterRoutes(router)
	return router, rec
}

func postCallback(router *gin.Engine, apiKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callback/shkeeper", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-SHKEEPER-API-KEY", apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCallbackAppliesPayment(t *testing.T) {
	router, _ := setupCallbackRouter(t)

	w := postCallback(router, testAPIKey, paidBody)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("callback response must have no body, got %q", w.Body.String())
	}
}

func TestCallbackHeaderIsCaseInsensitive(t *testing.T) {
	router, _ := setupCallbackRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/callback/shkeeper", strings.NewReader(paidBody))
	req.Header.Set("x-shkeeper-api-key", testAPIKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202 with lowercase header, got %d", w.Code)
	}
}

func TestCallbackRejectsWithoutKey(t *testing.T) {
	router, _ := setupCallbackRouter(t)

	w := postCallback(router, "", paidBody)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestCallbackRedeliveryStaysAccepted(t *testing.T) {
	router, _ := setupCallbackRouter(t)

	first := postCallback(router, testAPIKey, paidBody)
	second := postCallback(router, testAPIKey, paidBody)

	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Errorf("expected 202/202, got %d/%d", first.Code, second.Code)
	}
}
