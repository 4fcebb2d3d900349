// Package billing holds the narrow interfaces the gateway consumes from
// the billing system: invoice lookup, client currency and conversion, the
// invoice payment ledger, and the module diagnostic log.
//
// The reconciler only ever reads invoices; payments are the single write
// path. A payment is immutable once recorded and its (txid, invoice)
// identity is the dedup key for all future notifications.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrUnknownCurrency  = errors.New("unknown currency")
	ErrDuplicatePayment = errors.New("payment already recorded")
)

// Invoice is the slice of the billing system's invoice the gateway reads.
// Balance is the amount still due; an untouched invoice has
// Balance == Subtotal.
type Invoice struct {
	ID       string          `json:"id"`
	ClientID string          `json:"clientId"`
	Currency string          `json:"currency"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Balance  decimal.Decimal `json:"balance"`
}

// Currency is a billing-system currency row.
type Currency struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
}

// Payment is one ledger entry: the permanent record that a blockchain
// transaction was applied to an invoice.
type Payment struct {
	InvoiceID string          `json:"invoiceId"`
	TxID      string          `json:"txid"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Gateway   string          `json:"gateway"`
	CreatedAt time.Time       `json:"createdAt"`
}

// InvoiceStore resolves invoices.
type InvoiceStore interface {
	Find(ctx context.Context, id string) (*Invoice, error)
}

// CurrencyService resolves currencies and converts amounts between them.
type CurrencyService interface {
	ClientCurrency(ctx context.Context, clientID string) (*Currency, error)
	CurrencyByCode(ctx context.Context, code string) (*Currency, error)
	Convert(ctx context.Context, amount decimal.Decimal, fromID, toID int) (decimal.Decimal, error)
}

// PaymentLedger records invoice payments at most once per (txid, invoice).
//
// AddPayment and HasPayment together are a check-then-act pair that is not
// atomic at the application level; implementations must enforce uniqueness
// on (txid, invoice_id) in storage and return ErrDuplicatePayment from
// AddPayment when the pair already exists.
type PaymentLedger interface {
	HasPayment(ctx context.Context, txid, invoiceID string) (bool, error)
	AddPayment(ctx context.Context, p *Payment) error
}

// DiagnosticLog is the operator-facing module call log.
type DiagnosticLog interface {
	Record(ctx context.Context, gateway, action string, requestIn, requestOut any, resultMeta string)
}

// Store bundles all billing collaborators behind one value, the shape the
// server wires together.
type Store interface {
	InvoiceStore
	CurrencyService
	PaymentLedger
	DiagnosticLog
}
