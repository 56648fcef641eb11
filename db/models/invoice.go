package models

import (
	"context"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/uptrace/bun"
)

// Invoice : Invoice Model
type Invoice struct {
	ID          string       `json:"id" bun:",pk"`
	Address     string       `json:"address" bun:",notnull,unique"`
	Amount      int64        `json:"amount" validate:"gt=0"`
	Description string       `json:"description" bun:",nullzero"`
	Status      string       `json:"status" bun:",default:'pending'"`
	CreatedAt   time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	ExpiresAt   time.Time    `json:"expires_at" bun:",notnull"`
	SettledAt   bun.NullTime `json:"settled_at"`
	UpdatedAt   bun.NullTime `json:"updated_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

// IsTerminal reports whether the invoice has reached a final state.
// Paid and expired invoices never transition again.
func (i *Invoice) IsTerminal() bool {
	return i.Status == common.InvoiceStatusPaid || i.Status == common.InvoiceStatusExpired
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
