package common

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusExpired = "expired"

	EventTypeInvoiceSettled       = "invoice.settled"
	EventTypeInvoiceExpired       = "invoice.expired"
	EventTypeTransactionBroadcast = "transaction.broadcast"

	// Signature header carried with every webhook delivery, hex-encoded
	// HMAC-SHA256 over the exact body bytes.
	WebhookSignatureHeader = "X-BTC-Pay-Signature"
)
