package billing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory billing backend for tests and demo mode.
type MemoryStore struct {
	mu          sync.RWMutex
	invoices    map[string]*Invoice
	clients     map[string]int // client ID -> currency ID
	currencies  map[int]*memCurrency
	byCode      map[string]int
	payments    map[string]*Payment // key txid + "|" + invoiceID
	diagnostics []DiagnosticEntry
}

type memCurrency struct {
	Currency
	Rate decimal.Decimal // units of this currency per base unit
}

// DiagnosticEntry is a recorded module call, kept for test assertions.
type DiagnosticEntry struct {
	Gateway    string
	Action     string
	RequestIn  any
	RequestOut any
	ResultMeta string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:   make(map[string]*Invoice),
		clients:    make(map[string]int),
		currencies: make(map[int]*memCurrency),
		byCode:     make(map[string]int),
		payments:   make(map[string]*Payment),
	}
}

// PutInvoice registers an invoice.
func (m *MemoryStore) PutInvoice(inv *Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
}

// PutCurrency registers a currency with its per-base-unit rate.
func (m *MemoryStore) PutCurrency(id int, code string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currencies[id] = &memCurrency{Currency: Currency{ID: id, Code: code}, Rate: rate}
	m.byCode[code] = id
}

// PutClient maps a client to its currency.
func (m *MemoryStore) PutClient(clientID string, currencyID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = currencyID
}

func (m *MemoryStore) Find(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) ClientCurrency(ctx context.Context, clientID string) (*Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.clients[clientID]
	if !ok {
		return nil, ErrUnknownCurrency
	}
	cur, ok := m.currencies[id]
	if !ok {
		return nil, ErrUnknownCurrency
	}
	c := cur.Currency
	return &c, nil
}

func (m *MemoryStore) CurrencyByCode(ctx context.Context, code string) (*Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCode[code]
	if !ok {
		return nil, ErrUnknownCurrency
	}
	c := m.currencies[id].Currency
	return &c, nil
}

func (m *MemoryStore) Convert(ctx context.Context, amount decimal.Decimal, fromID, toID int) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	from, ok := m.currencies[fromID]
	if !ok {
		return decimal.Zero, ErrUnknownCurrency
	}
	to, ok := m.currencies[toID]
	if !ok {
		return decimal.Zero, ErrUnknownCurrency
	}
	// Through the base currency: amount / fromRate * toRate.
	return amount.Div(from.Rate).Mul(to.Rate), nil
}

func (m *MemoryStore) HasPayment(ctx context.Context, txid, invoiceID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.payments[txid+"|"+invoiceID]
	return ok, nil
}

func (m *MemoryStore) AddPayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.TxID + "|" + p.InvoiceID
	if _, ok := m.payments[key]; ok {
		return ErrDuplicatePayment
	}

	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.payments[key] = &cp

	// Applying a payment reduces the invoice balance, like the billing
	// system does when addInvoicePayment succeeds.
	if inv, ok := m.invoices[p.InvoiceID]; ok {
		inv.Balance = inv.Balance.Sub(p.Amount)
	}

	return nil
}

func (m *MemoryStore) Record(ctx context.Context, gateway, action string, requestIn, requestOut any, resultMeta string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnostics = append(m.diagnostics, DiagnosticEntry{
		Gateway:    gateway,
		Action:     action,
		RequestIn:  requestIn,
		RequestOut: requestOut,
		ResultMeta: resultMeta,
	})
}

// Payments returns all recorded payments (test helper).
func (m *MemoryStore) Payments() []*Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Payment, 0, len(m.payments))
	for _, p := range m.payments {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Diagnostics returns all recorded module calls (test helper).
func (m *MemoryStore) Diagnostics() []DiagnosticEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DiagnosticEntry(nil), m.diagnostics...)
}
