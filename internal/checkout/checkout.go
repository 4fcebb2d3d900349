// Package checkout drives the merchant-facing side of the payment flow:
// listing available cryptos and creating payment requests against the
// Shkeeper processor for unpaid invoices.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/vsys-host/shkeeper-gateway/internal/billing"
	"github.com/vsys-host/shkeeper-gateway/internal/logging"
	"github.com/vsys-host/shkeeper-gateway/internal/metrics"
	"github.com/vsys-host/shkeeper-gateway/internal/shkeeper"
)

// ErrGatewayUnavailable is returned when the payment processor cannot be
// reached or returns an unusable response. Callers show a generic retry
// message instead of upstream detail.
var ErrGatewayUnavailable = errors.New("connection error, try later")

// ProcessorClient is the subset of the Shkeeper API the checkout flow uses.
type ProcessorClient interface {
	ListCryptos(ctx context.Context) ([]shkeeper.Crypto, error)
	CreatePaymentRequest(ctx context.Context, req shkeeper.PaymentRequest) (*shkeeper.PaymentAddress, error)
	TxInfo(ctx context.Context, txid string) (*shkeeper.TxInfo, error)
}

// Config holds checkout settings.
type Config struct {
	CallbackURL string
	GatewayName string
}

// Service implements checkout operations.
type Service struct {
	cfg    Config
	client ProcessorClient
	store  billing.Store
}

// NewService creates a checkout service.
func NewService(cfg Config, client ProcessorClient, store billing.Store) *Service {
	return &Service{cfg: cfg, client: client, store: store}
}

// CryptoList is the result of listing cryptos. Available is false when the
// processor was unreachable; the list is empty rather than an error so the
// payment page can degrade gracefully.
type CryptoList struct {
	Cryptos   []shkeeper.Crypto `json:"cryptos"`
	Available bool              `json:"available"`
}

// ListCryptos returns the cryptos the processor accepts. Upstream failures
// degrade to an empty, unavailable list.
func (s *Service) ListCryptos(ctx context.Context) CryptoList {
	cryptos, err := s.client.ListCryptos(ctx)
	if err != nil {
		logging.L(ctx).Warn("crypto list unavailable", "error", err)
		metrics.UpstreamRequestsTotal.WithLabelValues("crypto", "error").Inc()
		return CryptoList{Cryptos: []shkeeper.Crypto{}, Available: false}
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("crypto", "ok").Inc()
	if cryptos == nil {
		cryptos = []shkeeper.Crypto{}
	}
	return CryptoList{Cryptos: cryptos, Available: len(cryptos) > 0}
}

// PaymentDetails is what the payment page needs to show the payer.
type PaymentDetails struct {
	Wallet           string `json:"wallet"`
	Amount           string `json:"amount"`
	DisplayName      string `json:"display_name"`
	RecalculateAfter int    `json:"recalculate_after"`
}

// CreatePaymentRequest asks the processor for a deposit address covering the
// invoice's outstanding balance in the given crypto. The invoice id becomes
// the external id the processor echoes back in callbacks.
func (s *Service) CreatePaymentRequest(ctx context.Context, invoiceID, crypto string) (*PaymentDetails, error) {
	inv, err := s.store.Find(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	cur, err := s.store.ClientCurrency(ctx, inv.ClientID)
	if err != nil {
		return nil, err
	}

	req := shkeeper.PaymentRequest{
		ExternalID:  inv.ID,
		Fiat:        cur.Code,
		Amount:      inv.Balance,
		CallbackURL: s.cfg.CallbackURL,
		Crypto:      crypto,
	}

	addr, err := s.client.CreatePaymentRequest(ctx, req)
	s.store.Record(ctx, s.cfg.GatewayName, "payment_request", req, addr, resultMeta(err))
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("payment_request", "error").Inc()
		logging.L(ctx).Error("payment request failed",
			"invoice_id", inv.ID,
			"crypto", crypto,
			"error", err,
		)
		if errors.Is(err, shkeeper.ErrUpstreamRejected) {
			return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
		}
		return nil, ErrGatewayUnavailable
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("payment_request", "ok").Inc()

	return &PaymentDetails{
		Wallet:           addr.Wallet,
		Amount:           addr.Amount.String(),
		DisplayName:      addr.DisplayName,
		RecalculateAfter: addr.RecalculateAfter,
	}, nil
}

// TxInfo looks up a transaction on the processor side.
func (s *Service) TxInfo(ctx context.Context, txid string) (*shkeeper.TxInfo, error) {
	info, err := s.client.TxInfo(ctx, txid)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("tx_info", "error").Inc()
		return nil, ErrGatewayUnavailable
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("tx_info", "ok").Inc()
	return info, nil
}

func resultMeta(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
