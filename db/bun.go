package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db/models"
	"github.com/uptrace/bun"
)

// BunInvoiceStore persists invoices through a bun DB handle.
type BunInvoiceStore struct {
	db    *bun.DB
	locks invoiceLocks
}

func NewBunInvoiceStore(db *bun.DB) *BunInvoiceStore {
	return &BunInvoiceStore{db: db}
}

func (store *BunInvoiceStore) Create(ctx context.Context, invoice *models.Invoice) error {
	_, err := store.db.NewInsert().Model(invoice).Exec(ctx)
	if err != nil {
		// the id is the primary key, so a key conflict is a duplicate id
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

func (store *BunInvoiceStore) Get(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := store.db.NewSelect().Model(&invoice).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (store *BunInvoiceStore) UpdateStatus(ctx context.Context, id string, status string) (*models.Invoice, error) {
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
	if status == common.InvoiceStatusPaid {
		invoice.SettledAt = bun.NullTime{Time: time.Now()}
	}
	_, err = store.db.NewUpdate().Model(invoice).WherePK().Exec(ctx)
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (store *BunInvoiceStore) ListPending(ctx context.Context) ([]models.Invoice, error) {
	pending := []models.Invoice{}
	err := store.db.NewSelect().Model(&pending).Where("status = ?", common.InvoiceStatusPending).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return pending, nil
}
