package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/getsentry/sentry-go"
)

// WebhookEvent describes an invoice state transition at the moment it
// happened. Events are emitted, never stored.
type WebhookEvent struct {
	EventType string                 `json:"event_type"`
	InvoiceID string                 `json:"invoice_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func invoiceEvent(invoice models.Invoice) WebhookEvent {
	eventType := common.EventTypeInvoiceSettled
	if invoice.Status == common.InvoiceStatusExpired {
		eventType = common.EventTypeInvoiceExpired
	}
	return WebhookEvent{
		EventType: eventType,
		InvoiceID: invoice.ID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"status":      invoice.Status,
			"address":     invoice.Address,
			"amount":      invoice.Amount,
			"description": invoice.Description,
		},
	}
}

// StartWebhookSubscription forwards every settled/expired invoice to the
// configured webhook url until the context is canceled. Deliveries are
// retried with capped backoff; a delivery that keeps failing is dropped
// with an error log and never affects the invoice itself.
func (svc *PayService) StartWebhookSubscription(ctx context.Context, url string) {
	svc.Logger.Infof("Starting webhook subscription with webhook url %s", url)

	paidInvoices := make(chan models.Invoice)
	expiredInvoices := make(chan models.Invoice)
	svc.InvoicePubSub.Subscribe(common.InvoiceStatusPaid, paidInvoices)
	svc.InvoicePubSub.Subscribe(common.InvoiceStatusExpired, expiredInvoices)
	for {
		select {
		case <-ctx.Done():
			return
		case paid := <-paidInvoices:
			svc.deliverWithRetry(ctx, url, invoiceEvent(paid))
		case expired := <-expiredInvoices:
			svc.deliverWithRetry(ctx, url, invoiceEvent(expired))
		}
	}
}

func (svc *PayService) deliverWithRetry(ctx context.Context, url string, event WebhookEvent) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Duration(svc.Config.WebhookRetryMaxElapsed) * time.Second
	err := backoff.Retry(func() error {
		return svc.postToWebhook(ctx, url, event)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		svc.Logger.Errorf("Giving up webhook delivery for invoice %s: %v", event.InvoiceID, err)
		sentry.CaptureException(err)
	}
}

// postToWebhook makes exactly one delivery attempt. The payload is signed
// with HMAC-SHA256 over the exact bytes sent, keyed by the endpoint secret;
// receivers must verify the signature header before trusting the body.
func (svc *PayService) postToWebhook(ctx context.Context, url string, event WebhookEvent) error {
	payload := new(bytes.Buffer)
	if err := json.NewEncoder(payload).Encode(event); err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload.Bytes()))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.WebhookSignatureHeader, signPayload(payload.Bytes(), svc.Config.WebhookSecret))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook status code was %d, body: %s", resp.StatusCode, msg)
	}
	return nil
}

func (svc *PayService) notifyTransactionBroadcast(txid string) error {
	if svc.Config.WebhookUrl == "" {
		return nil
	}
	event := WebhookEvent{
		EventType: common.EventTypeTransactionBroadcast,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"txid": txid,
		},
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Duration(svc.Config.WebhookRetryMaxElapsed) * time.Second
	return backoff.Retry(func() error {
		return svc.postToWebhook(context.Background(), svc.Config.WebhookUrl, event)
	}, policy)
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature is the receiver-side check: constant-time
// comparison of the carried signature against a locally computed one.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signPayload(payload, secret)), []byte(signature))
}
