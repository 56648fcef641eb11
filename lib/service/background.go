package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db/models"
)

// StartInvoiceCheckRoutine periodically reconciles all pending invoices so
// settlements and expiries are detected even when nobody polls the check
// endpoint. Runs until the context is canceled.
func (svc *PayService) StartInvoiceCheckRoutine(ctx context.Context) error {
	interval := time.Duration(svc.Config.InvoicePollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svc.Logger.Infof("Starting pending invoice check routine with interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			if err := svc.CheckAllPendingInvoices(ctx); err != nil {
				svc.Logger.Errorf("Error in pending invoice scan: %v", err)
			}
		}
	}
}

// SubscribePaidExpiredInvoices is the subscription hook handed to the
// rabbitmq publisher.
func (svc *PayService) SubscribePaidExpiredInvoices() (paid chan models.Invoice, expired chan models.Invoice, err error) {
	paid = make(chan models.Invoice)
	expired = make(chan models.Invoice)
	svc.InvoicePubSub.Subscribe(common.InvoiceStatusPaid, paid)
	svc.InvoicePubSub.Subscribe(common.InvoiceStatusExpired, expired)
	return paid, expired, nil
}

// EncodeInvoiceEvent writes the same event body the webhook path sends.
func (svc *PayService) EncodeInvoiceEvent(ctx context.Context, w io.Writer, invoice models.Invoice) error {
	return json.NewEncoder(w).Encode(invoiceEvent(invoice))
}
