package billing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// PostgresStore implements Store with PostgreSQL.
//
// The gateway_payments table carries UNIQUE (txid, invoice_id); a
// concurrent double-delivery that slips past the reconciler's existence
// check surfaces here as ErrDuplicatePayment instead of a double credit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed billing store.
// Schema is managed by the goose migrations under migrations/.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Find retrieves an invoice by ID.
func (p *PostgresStore) Find(ctx context.Context, id string) (*Invoice, error) {
	inv := &Invoice{}
	err := p.db.QueryRowContext(ctx, `
		SELECT i.id, i.client_id, c.code, i.subtotal, i.balance
		FROM invoices i
		JOIN clients cl ON cl.id = i.client_id
		JOIN currencies c ON c.id = cl.currency_id
		WHERE i.id = $1
	`, id).Scan(&inv.ID, &inv.ClientID, &inv.Currency, &inv.Subtotal, &inv.Balance)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ClientCurrency returns the currency configured for a client.
func (p *PostgresStore) ClientCurrency(ctx context.Context, clientID string) (*Currency, error) {
	cur := &Currency{}
	err := p.db.QueryRowContext(ctx, `
		SELECT c.id, c.code
		FROM clients cl
		JOIN currencies c ON c.id = cl.currency_id
		WHERE cl.id = $1
	`, clientID).Scan(&cur.ID, &cur.Code)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownCurrency
	}
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// CurrencyByCode resolves a currency code to its row.
func (p *PostgresStore) CurrencyByCode(ctx context.Context, code string) (*Currency, error) {
	cur := &Currency{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, code FROM currencies WHERE code = $1
	`, code).Scan(&cur.ID, &cur.Code)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownCurrency
	}
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// Convert converts an amount between currencies through the base-currency
// rates stored on each row (units of the currency per base unit).
func (p *PostgresStore) Convert(ctx context.Context, amount decimal.Decimal, fromID, toID int) (decimal.Decimal, error) {
	var fromRate, toRate decimal.Decimal

	err := p.db.QueryRowContext(ctx, `
		SELECT rate FROM currencies WHERE id = $1
	`, fromID).Scan(&fromRate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUnknownCurrency
	}
	if err != nil {
		return decimal.Zero, err
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT rate FROM currencies WHERE id = $1
	`, toID).Scan(&toRate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUnknownCurrency
	}
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Div(fromRate).Mul(toRate), nil
}

// HasPayment reports whether a payment for (txid, invoice) already exists.
func (p *PostgresStore) HasPayment(ctx context.Context, txid, invoiceID string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM gateway_payments WHERE txid = $1 AND invoice_id = $2
	`, txid, invoiceID).Scan(&count)
	return count > 0, err
}

// AddPayment records a payment and applies it to the invoice balance in
// one transaction. A unique-index violation on (txid, invoice_id) maps to
// ErrDuplicatePayment and leaves the invoice untouched.
func (p *PostgresStore) AddPayment(ctx context.Context, payment *Payment) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gateway_payments (id, invoice_id, txid, amount, fee, gateway, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6, NOW())
	`, generateID(), payment.InvoiceID, payment.TxID, payment.Amount, payment.Fee, payment.Gateway)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to record payment: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE invoices SET
			balance    = balance - $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE id = $1
	`, payment.InvoiceID, payment.Amount)
	if err != nil {
		return fmt.Errorf("failed to apply payment to invoice: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInvoiceNotFound
	}

	return tx.Commit()
}

// Record writes a module call to the diagnostic log. Best effort; a
// failed diagnostic write never fails the operation being diagnosed.
func (p *PostgresStore) Record(ctx context.Context, gateway, action string, requestIn, requestOut any, resultMeta string) {
	in, _ := json.Marshal(requestIn)
	out, _ := json.Marshal(requestOut)

	_, _ = p.db.ExecContext(ctx, `
		INSERT INTO gateway_log (id, gateway, action, request_in, request_out, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, generateID(), gateway, action, string(in), string(out), resultMeta)
}

// ListPayments returns payments for an invoice, newest first.
func (p *PostgresStore) ListPayments(ctx context.Context, invoiceID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT invoice_id, txid, amount, fee, gateway, created_at
		FROM gateway_payments
		WHERE invoice_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, invoiceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		pay := &Payment{}
		if err := rows.Scan(&pay.InvoiceID, &pay.TxID, &pay.Amount, &pay.Fee, &pay.Gateway, &pay.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, pay)
	}
	return payments, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
