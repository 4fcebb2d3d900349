// Package reconciler applies Shkeeper payment notifications to invoices.
//
// Each notification is handled as one stateless request: authenticate the
// caller, pick the authoritative transaction, filter noise, compute the
// settlement amount, and record it against the invoice at most once per
// (txid, invoice) pair. All cross-request coordination lives in the
// billing store's uniqueness constraint; the reconciler itself never
// retries and never blocks.
package reconciler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vsys-host/shkeeper-gateway/internal/billing"
	"github.com/vsys-host/shkeeper-gateway/internal/logging"
)

var (
	ErrUnauthorized      = errors.New("missing or invalid api key")
	ErrMalformedPayload  = errors.New("malformed notification payload")
	ErrInvalidCurrency   = errors.New("invalid notification currency")
	ErrInvoiceNotFound   = errors.New("notification references unknown invoice")
	ErrLedgerWriteFailed = errors.New("failed to record invoice payment")
)

// Status is the payment state reported by the processor.
type Status string

const (
	StatusPaid     Status = "PAID"
	StatusOverpaid Status = "OVERPAID"
	StatusPartial  Status = "PARTIAL"
)

// Transaction is one blockchain transaction inside a notification.
type Transaction struct {
	TxID         string          `json:"txid"`
	AmountFiat   decimal.Decimal `json:"amount_fiat"`
	AmountCrypto decimal.Decimal `json:"amount_crypto"`
	Crypto       string          `json:"crypto"`
	Trigger      bool            `json:"trigger"`
}

// Notification is the inbound webhook payload. It lives for exactly one
// request.
type Notification struct {
	ExternalID   flexString      `json:"external_id"`
	Fiat         string          `json:"fiat"`
	FeePercent   decimal.Decimal `json:"fee_percent"`
	OverpaidFiat decimal.Decimal `json:"overpaid_fiat"`
	Paid         bool            `json:"paid"`
	Status       Status          `json:"status"`
	Transactions []Transaction   `json:"transactions"`
}

// flexString accepts a JSON string or number. The processor echoes
// external_id back in whichever form it was given.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Outcome labels a terminal path. Used for metrics and diagnostics.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeScam            Outcome = "scam"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeInvalidCurrency Outcome = "invalid_currency"
	OutcomeInvoiceNotFound Outcome = "invoice_not_found"
	OutcomeLedgerError     Outcome = "ledger_error"
)

// Request is the inbound notification stripped to what the reconciler
// needs: the api key header value and the raw body. No ambient reads.
type Request struct {
	APIKey string
	Body   []byte
}

// Result is the terminal state of one notification.
//
// Code is always 202 (handled, including intentional no-ops) or 204
// (rejected, do not retry). Err carries the taxonomy error on rejection
// paths and is nil for applied/duplicate/scam.
type Result struct {
	Code      int
	Outcome   Outcome
	InvoiceID string
	TxID      string
	Amount    decimal.Decimal
	Err       error
}

// Config is the per-gateway-instance reconciliation policy.
type Config struct {
	APIKey                 string
	GatewayName            string
	MinimalFiatTransaction decimal.Decimal
	RoundCreditAmount      bool
}

// Reconciler processes notifications against a billing store.
type Reconciler struct {
	cfg   Config
	store billing.Store
}

// New creates a reconciler.
func New(cfg Config, store billing.Store) *Reconciler {
	return &Reconciler{cfg: cfg, store: store}
}

// Process runs the full reconciliation pipeline for one notification.
// It never panics and never returns without a defined HTTP status.
func (r *Reconciler) Process(ctx context.Context, req Request) Result {
	log := logging.L(ctx)
	gateway := r.cfg.GatewayName

	// 1. Authentication. Fails closed: no key, wrong key, nothing else
	// is touched and no details leak to the caller.
	if req.APIKey == "" || subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(r.cfg.APIKey)) != 1 {
		r.store.Record(ctx, gateway, "callback", string(req.Body), nil, "missed or invalid request api key")
		return reject(OutcomeUnauthorized, ErrUnauthorized)
	}

	// 2. Parsing and validation.
	var n Notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		r.store.Record(ctx, gateway, "callback", string(req.Body), nil, "invalid callback json")
		return reject(OutcomeMalformed, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if n.ExternalID == "" || len(n.Transactions) == 0 {
		r.store.Record(ctx, gateway, "callback", n, nil, "incomplete callback payload")
		return reject(OutcomeMalformed, ErrMalformedPayload)
	}

	// 3. Triggered transaction: the one flagged by the processor, else
	// the last in arrival order.
	tx := selectTransaction(n.Transactions)
	if tx.TxID == "" {
		r.store.Record(ctx, gateway, "callback", n, nil, "transaction without txid")
		return reject(OutcomeMalformed, ErrMalformedPayload)
	}

	invoiceID := string(n.ExternalID)

	// 4. Noise filter: dust below the configured threshold is treated
	// as scam and acknowledged without touching the invoice.
	if tx.AmountFiat.LessThan(r.cfg.MinimalFiatTransaction) {
		log.Info("skipping scam transaction",
			"invoice_id", invoiceID,
			"txid", tx.TxID,
			"amount_fiat", tx.AmountFiat,
		)
		return Result{Code: http.StatusAccepted, Outcome: OutcomeScam, InvoiceID: invoiceID, TxID: tx.TxID}
	}

	// 5. Invoice resolution. A missing invoice is a hard failure: a
	// retry cannot fix it, so it is logged loudly and rejected.
	inv, err := r.store.Find(ctx, invoiceID)
	if err != nil {
		log.Error("invoice resolution failed",
			"invoice_id", invoiceID,
			"txid", tx.TxID,
			"error", err,
		)
		r.store.Record(ctx, gateway, "callback", n, nil, "invoice not found")
		return rejectTx(OutcomeInvoiceNotFound, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID), invoiceID, tx.TxID)
	}

	// 6. Dedup pre-check. Notifications may be delivered more than once;
	// an already-recorded (txid, invoice) pair is a handled no-op.
	exists, err := r.store.HasPayment(ctx, tx.TxID, inv.ID)
	if err != nil {
		log.Error("payment lookup failed", "invoice_id", inv.ID, "txid", tx.TxID, "error", err)
		return rejectTx(OutcomeLedgerError, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err), inv.ID, tx.TxID)
	}
	if exists {
		log.Info("transaction already processed", "invoice_id", inv.ID, "txid", tx.TxID)
		return Result{Code: http.StatusAccepted, Outcome: OutcomeDuplicate, InvoiceID: inv.ID, TxID: tx.TxID}
	}

	// 7. Fee and currency normalization.
	net, err := r.normalize(ctx, &n, tx, inv)
	if err != nil {
		r.store.Record(ctx, gateway, "callback", n, nil, "unsuccessful - invalid currency")
		return rejectTx(OutcomeInvalidCurrency, err, inv.ID, tx.TxID)
	}

	// 8. Settlement amount policy.
	amount := r.settlementAmount(n.Status, net, inv)

	// 9. Ledger write. The unique index on (txid, invoice_id) makes a
	// concurrent duplicate delivery a detectable failure here instead of
	// a double credit.
	payment := &billing.Payment{
		InvoiceID: inv.ID,
		TxID:      tx.TxID,
		Amount:    amount,
		Fee:       decimal.Zero,
		Gateway:   gateway,
	}
	if err := r.store.AddPayment(ctx, payment); err != nil {
		if errors.Is(err, billing.ErrDuplicatePayment) {
			log.Info("transaction already processed (write race)", "invoice_id", inv.ID, "txid", tx.TxID)
			return Result{Code: http.StatusAccepted, Outcome: OutcomeDuplicate, InvoiceID: inv.ID, TxID: tx.TxID}
		}
		log.Error("transaction add error",
			"invoice_id", inv.ID,
			"txid", tx.TxID,
			"amount", amount,
			"error", err,
		)
		r.store.Record(ctx, gateway, "callback", n, payment, "transaction add error")
		res := rejectTx(OutcomeLedgerError, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err), inv.ID, tx.TxID)
		res.Amount = amount
		return res
	}

	log.Info("transaction added",
		"invoice_id", inv.ID,
		"txid", tx.TxID,
		"amount", amount,
		"status", n.Status,
	)
	r.store.Record(ctx, gateway, "callback", n, payment, "transaction added")

	return Result{
		Code:      http.StatusAccepted,
		Outcome:   OutcomeApplied,
		InvoiceID: inv.ID,
		TxID:      tx.TxID,
		Amount:    amount,
	}
}

// selectTransaction returns the transaction with trigger set, or the last
// one in arrival order when none is flagged.
func selectTransaction(txs []Transaction) Transaction {
	for _, tx := range txs {
		if tx.Trigger {
			return tx
		}
	}
	return txs[len(txs)-1]
}

// normalize computes the fee-adjusted amount in the invoice client's
// currency: amount_fiat * (100 - fee_percent) / 100, converted when the
// notification currency differs from the client currency.
func (r *Reconciler) normalize(ctx context.Context, n *Notification, tx Transaction, inv *billing.Invoice) (decimal.Decimal, error) {
	hundred := decimal.NewFromInt(100)
	net := tx.AmountFiat.Mul(hundred.Sub(n.FeePercent)).Div(hundred)

	clientCur, err := r.store.ClientCurrency(ctx, inv.ClientID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: client %s: %v", ErrInvalidCurrency, inv.ClientID, err)
	}
	if n.Fiat == clientCur.Code {
		return net, nil
	}

	payCur, err := r.store.CurrencyByCode(ctx, n.Fiat)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidCurrency, n.Fiat)
	}

	converted, err := r.store.Convert(ctx, net, payCur.ID, clientCur.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s -> %s: %v", ErrInvalidCurrency, n.Fiat, clientCur.Code, err)
	}
	return converted, nil
}

// settlementAmount applies the status-dependent settlement policy.
func (r *Reconciler) settlementAmount(status Status, net decimal.Decimal, inv *billing.Invoice) decimal.Decimal {
	if status == StatusPaid {
		// Full payoff of an untouched invoice settles the exact balance
		// so rounding differences cannot leave the invoice open.
		if inv.Balance.Equal(inv.Subtotal) {
			return inv.Balance
		}
		if r.cfg.RoundCreditAmount {
			return net.Floor()
		}
		return net
	}

	// OVERPAID / PARTIAL settle the net amount. Flooring may only reach
	// zero for sub-unit transactions; the ledger treats zero as "full
	// balance", so clamp to 1.
	if r.cfg.RoundCreditAmount {
		floored := net.Floor()
		one := decimal.NewFromInt(1)
		if floored.LessThan(one) {
			return one
		}
		return floored
	}
	return net
}

func reject(outcome Outcome, err error) Result {
	return Result{Code: http.StatusNoContent, Outcome: outcome, Err: err}
}

func rejectTx(outcome Outcome, err error, invoiceID, txid string) Result {
	return Result{Code: http.StatusNoContent, Outcome: outcome, InvoiceID: invoiceID, TxID: txid, Err: err}
}
