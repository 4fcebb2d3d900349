package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vsys-host/shkeeper-gateway/internal/billing"
	"github.com/vsys-host/shkeeper-gateway/internal/shkeeper"
)

// fakeClient is a scriptable ProcessorClient.
type fakeClient struct {
	cryptos    []shkeeper.Crypto
	cryptosErr error

	address    *shkeeper.PaymentAddress
	addressErr error
	lastReq    shkeeper.PaymentRequest

	txInfo    *shkeeper.TxInfo
	txInfoErr error
}

func (f *fakeClient) ListCryptos(ctx context.Context) ([]shkeeper.Crypto, error) {
	return f.cryptos, f.cryptosErr
}

func (f *fakeClient) CreatePaymentRequest(ctx context.Context, req shkeeper.PaymentRequest) (*shkeeper.PaymentAddress, error) {
	f.lastReq = req
	return f.address, f.addressErr
}

func (f *fakeClient) TxInfo(ctx context.Context, txid string) (*shkeeper.TxInfo, error) {
	return f.txInfo, f.txInfoErr
}

func newTestService(client *fakeClient) (*Service, *billing.MemoryStore) {
	store := billing.NewMemoryStore()
	store.PutCurrency(1, "USD", decimal.NewFromInt(1))
	store.PutClient("c1", 1)
	store.PutInvoice(&billing.Invoice{
		ID:       "1001",
		ClientID: "c1",
		Currency: "USD",
		Subtotal: decimal.NewFromInt(100),
		Balance:  decimal.NewFromInt(100),
	})

	svc := NewService(Config{
		CallbackURL: "https://billing.example.com/callback/shkeeper",
		GatewayName: "shkeeper",
	}, client, store)
	return svc, store
}

func TestListCryptos(t *testing.T) {
	client := &fakeClient{cryptos: []shkeeper.Crypto{{Name: "BTC", DisplayName: "Bitcoin"}}}
	svc, _ := newTestService(client)

	list := svc.ListCryptos(context.Background())

	if !list.Available {
		t.Error("expected available list")
	}
	if len(list.Cryptos) != 1 || list.Cryptos[0].Name != "BTC" {
		t.Errorf("unexpected cryptos: %+v", list.Cryptos)
	}
}

func TestListCryptosDegradesWhenUpstreamDown(t *testing.T) {
	client := &fakeClient{cryptosErr: shkeeper.ErrUpstreamUnavailable}
	svc, _ := newTestService(client)

	list := svc.ListCryptos(context.Background())

	if list.Available {
		t.Error("expected unavailable list")
	}
	if list.Cryptos == nil || len(list.Cryptos) != 0 {
		t.Errorf("expected empty non-nil list, got %v", list.Cryptos)
	}
}

func TestListCryptosSoftFailIsUnavailable(t *testing.T) {
	// The processor answered but has no gateway: nil list, no error.
	client := &fakeClient{}
	svc, _ := newTestService(client)

	list := svc.ListCryptos(context.Background())

	if list.Available {
		t.Error("expected unavailable list for nil crypto list")
	}
}

func TestCreatePaymentRequest(t *testing.T) {
	client := &fakeClient{address: &shkeeper.PaymentAddress{
		Wallet:           "bc1qexample",
		Amount:           decimal.RequireFromString("0.0025"),
		DisplayName:      "Bitcoin",
		RecalculateAfter: 2,
	}}
	svc, _ := newTestService(client)

	details, err := svc.CreatePaymentRequest(context.Background(), "1001", "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if details.Wallet != "bc1qexample" || details.RecalculateAfter != 2 {
		t.Errorf("unexpected details: %+v", details)
	}

	// Outbound request carries the invoice identity and callback.
	if client.lastReq.ExternalID != "1001" {
		t.Errorf("expected external_id 1001, got %s", client.lastReq.ExternalID)
	}
	if client.lastReq.Fiat != "USD" {
		t.Errorf("expected fiat USD, got %s", client.lastReq.Fiat)
	}
	if !client.lastReq.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected amount 100, got %s", client.lastReq.Amount)
	}
	if client.lastReq.CallbackURL == "" {
		t.Error("expected callback URL on outbound request")
	}
}

func TestCreatePaymentRequestUnknownInvoice(t *testing.T) {
	svc, _ := newTestService(&fakeClient{})

	_, err := svc.CreatePaymentRequest(context.Background(), "9999", "BTC")

	if !errors.Is(err, billing.ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestCreatePaymentRequestUpstreamDown(t *testing.T) {
	client := &fakeClient{addressErr: shkeeper.ErrUpstreamUnavailable}
	svc, store := newTestService(client)

	_, err := svc.CreatePaymentRequest(context.Background(), "1001", "BTC")

	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	// The failed attempt is still diagnosed.
	diags := store.Diagnostics()
	if len(diags) != 1 || diags[0].Action != "payment_request" {
		t.Errorf("expected 1 payment_request diagnostic, got %+v", diags)
	}
}

func setupRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc).RegisterRoutes(router.Group("/v1"))
	return router
}

func TestHandlerCreatePaymentRequest(t *testing.T) {
	client := &fakeClient{address: &shkeeper.PaymentAddress{Wallet: "w", DisplayName: "Bitcoin"}}
	svc, _ := newTestService(client)
	router := setupRouter(svc)

	body, _ := json.Marshal(gin.H{"crypto": "BTC"})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/1001/payment-request", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp PaymentDetails
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Wallet != "w" {
		t.Errorf("unexpected wallet %s", resp.Wallet)
	}
}

func TestHandlerCreatePaymentRequestValidation(t *testing.T) {
	svc, _ := newTestService(&fakeClient{})
	router := setupRouter(svc)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing crypto", `{}`, http.StatusBadRequest},
		{"bad crypto name", `{"crypto": "B T C!"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/invoices/1001/payment-request", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHandlerUpstreamDownReturns502(t *testing.T) {
	client := &fakeClient{addressErr: shkeeper.ErrUpstreamUnavailable}
	svc, _ := newTestService(client)
	router := setupRouter(svc)

	body, _ := json.Marshal(gin.H{"crypto": "BTC"})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/1001/payment-request", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	// The body carries the retry message, never upstream detail.
	if !bytes.Contains(w.Body.Bytes(), []byte("connection error, try later")) {
		t.Errorf("expected retry message, got %s", w.Body.String())
	}
}

func TestHandlerTxInfoRejectsBadTxID(t *testing.T) {
	svc, _ := newTestService(&fakeClient{txInfo: &shkeeper.TxInfo{Crypto: "BTC"}})
	router := setupRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/tx/bad%20txid!", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
