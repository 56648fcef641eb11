package db

import (
	"context"
	"errors"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db/models"
)

var (
	ErrNotFound          = errors.New("invoice not found")
	ErrDuplicateID       = errors.New("invoice id already exists")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// InvoiceStore is the minimal persistence contract the service depends on.
// Implementations must serialize UpdateStatus calls per invoice id and must
// never partially apply a status change.
type InvoiceStore interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	Get(ctx context.Context, id string) (*models.Invoice, error)
	// UpdateStatus applies the transition only if it is a legal edge from
	// the current status and returns the resulting snapshot. A same-status
	// update is a no-op, not an error.
	UpdateStatus(ctx context.Context, id string, status string) (*models.Invoice, error)
	ListPending(ctx context.Context) ([]models.Invoice, error)
}

// transitionAllowed evaluates the status state machine: pending may move to
// paid or expired, both of which are terminal. It returns whether the update
// should be applied; a same-status update returns (false, nil).
func transitionAllowed(from, to string) (apply bool, err error) {
	if from == to {
		return false, nil
	}
	if from == common.InvoiceStatusPending &&
		(to == common.InvoiceStatusPaid || to == common.InvoiceStatusExpired) {
		return true, nil
	}
	return false, ErrIllegalTransition
}
