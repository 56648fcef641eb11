package db

import (
	"context"
	"sync"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db/models"
	"github.com/uptrace/bun"
)

// MemoryInvoiceStore keeps invoices in process memory. It backs development
// setups without a database and the test suites; it honors the same
// transition and serialization rules as the bun store.
type MemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]models.Invoice
	locks    invoiceLocks
}

func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{invoices: make(map[string]models.Invoice)}
}

func (store *MemoryInvoiceStore) Create(ctx context.Context, invoice *models.Invoice) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.invoices[invoice.ID]; exists {
		return ErrDuplicateID
	}
	store.invoices[invoice.ID] = *invoice
	return nil
}

func (store *MemoryInvoiceStore) Get(ctx context.Context, id string) (*models.Invoice, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	invoice, exists := store.invoices[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &invoice, nil
}

func (store *MemoryInvoiceStore) UpdateStatus(ctx context.Context, id string, status string) (*models.Invoice, error) {
	unlock := store.locks.lock(id)
	defer unlock()

	invoice, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	apply, err := transitionAllowed(invoice.Status, status)
	if err != nil {
		return nil, err
	}
	if !apply {
		return invoice, nil
	}

	invoice.Status = status
	invoice.UpdatedAt = bun.NullTime{Time: time.Now()}
	if status == common.InvoiceStatusPaid {
		invoice.SettledAt = bun.NullTime{Time: time.Now()}
	}

	store.mu.Lock()
	store.invoices[id] = *invoice
	store.mu.Unlock()
	return invoice, nil
}

func (store *MemoryInvoiceStore) ListPending(ctx context.Context) ([]models.Invoice, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	pending := []models.Invoice{}
	for _, invoice := range store.invoices {
		if invoice.Status == common.InvoiceStatusPending {
			pending = append(pending, invoice)
		}
	}
	return pending, nil
}
