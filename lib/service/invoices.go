package service

import (
	"context"
	"errors"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db"
	"github.com/btcpayd/btcpayd/db/models"
	"github.com/btcpayd/btcpayd/signer"
	"github.com/getsentry/sentry-go"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrBadAuth        = errors.New("bad auth")
)

// CreateInvoice issues a dedicated receiving address and persists a pending
// invoice. No notification is emitted on creation.
func (svc *PayService) CreateInvoice(ctx context.Context, amount int64, description string, expiry int64) (*models.Invoice, error) {
	if amount <= 0 || expiry <= 0 {
		return nil, ErrInvalidRequest
	}

	address, err := svc.Issuer.Issue(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	invoice := &models.Invoice{
		ID:          makeInvoiceId(),
		Address:     address,
		Amount:      amount,
		Description: description,
		Status:      common.InvoiceStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(expiry) * time.Second),
	}
	if err = svc.Store.Create(ctx, invoice); err != nil {
		return nil, err
	}

	svc.Logger.Infof("Created invoice: id %s address %s amount %d", invoice.ID, invoice.Address, invoice.Amount)
	return invoice, nil
}

func (svc *PayService) FindInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return svc.Store.Get(ctx, id)
}

// decideTransition evaluates the reconciliation policy for a pending
// invoice. An observed payment wins over the clock: an invoice that is both
// paid and past expiry in the same pass settles as paid. Returns the target
// status or empty when nothing changes.
func decideTransition(invoice *models.Invoice, hasPayment bool, now time.Time) string {
	if invoice.Status != common.InvoiceStatusPending {
		return ""
	}
	if hasPayment {
		return common.InvoiceStatusPaid
	}
	if now.After(invoice.ExpiresAt) {
		return common.InvoiceStatusExpired
	}
	return ""
}

// CheckInvoice reconciles a pending invoice against the chain and returns
// the (possibly updated) snapshot. Terminal invoices are returned as-is. A
// provider failure leaves the invoice untouched and is safe to retry.
func (svc *PayService) CheckInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := svc.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.IsTerminal() {
		return invoice, nil
	}

	// the chain query happens without holding any invoice lock; the
	// result is applied through the store's serialized update
	hasPayment, err := svc.Chain.AddressHasPayment(ctx, invoice.Address)
	if err != nil {
		return nil, err
	}

	newStatus := decideTransition(invoice, hasPayment, time.Now())
	if newStatus == "" {
		return invoice, nil
	}

	updated, err := svc.Store.UpdateStatus(ctx, id, newStatus)
	if err != nil {
		// a concurrent checker already moved the invoice to a terminal
		// state; surface its result instead of failing
		if errors.Is(err, db.ErrIllegalTransition) {
			return svc.Store.Get(ctx, id)
		}
		return nil, err
	}
	if updated.Status != invoice.Status {
		svc.Logger.Infof("Invoice %s transitioned to %s", updated.ID, updated.Status)
		// fan-out must never block the caller's status check
		go svc.InvoicePubSub.Publish(updated.Status, *updated)
	}
	return updated, nil
}

// CheckAllPendingInvoices runs one reconciliation pass over every pending
// invoice. Individual failures are logged and do not stop the scan.
func (svc *PayService) CheckAllPendingInvoices(ctx context.Context) error {
	pending, err := svc.Store.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, invoice := range pending {
		if _, err := svc.CheckInvoice(ctx, invoice.ID); err != nil {
			svc.Logger.Errorf("Error checking invoice %s: %v", invoice.ID, err)
		}
	}
	return nil
}

// SignAndBroadcast drives the signing bridge, submits the result to the
// network and fires a best-effort notification. Any signer or broadcast
// error short-circuits; a transaction whose sign call failed or was
// canceled is never broadcast. This path does not touch invoice state.
func (svc *PayService) SignAndBroadcast(ctx context.Context, txReq *signer.UnsignedTxRequest) (string, error) {
	signedTx, err := svc.Signer.Sign(ctx, txReq)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	txid, err := svc.Chain.Broadcast(ctx, signedTx.RawTx)
	if err != nil {
		return "", err
	}
	svc.Logger.Infof("Broadcast transaction %s", txid)

	go func() {
		if err := svc.notifyTransactionBroadcast(txid); err != nil {
			svc.Logger.Errorf("Error delivering broadcast notification for %s: %v", txid, err)
			sentry.CaptureException(err)
		}
	}()

	return txid, nil
}
