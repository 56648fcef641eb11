package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/db"
	"github.com/btcpayd/btcpayd/db/models"
	"github.com/btcpayd/btcpayd/lib"
	"github.com/btcpayd/btcpayd/signer"
	"github.com/btcpayd/btcpayd/wallet"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

type fakeChainClient struct {
	hasPayment    bool
	queryErr      error
	broadcastTxid string
	broadcastErr  error
	broadcasts    int
}

func (c *fakeChainClient) AddressHasPayment(ctx context.Context, address string) (bool, error) {
	return c.hasPayment, c.queryErr
}

func (c *fakeChainClient) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	c.broadcasts++
	return c.broadcastTxid, c.broadcastErr
}

type fakeSigner struct {
	signed  *signer.SignedTx
	signErr error
}

func (s *fakeSigner) Connect(ctx context.Context) error { return nil }

func (s *fakeSigner) Sign(ctx context.Context, req *signer.UnsignedTxRequest) (*signer.SignedTx, error) {
	return s.signed, s.signErr
}

func (s *fakeSigner) StoreKey(ctx context.Context, wif string) error { return nil }

func testService(chainClient *fakeChainClient, deviceSigner *fakeSigner) *PayService {
	return &PayService{
		Config: &Config{
			OperatorLogin:          "admin",
			JWTSecret:              []byte("test-secret"),
			JWTAccessTokenExpiry:   3600,
			WebhookRetryMaxElapsed: 1,
		},
		Store:         db.NewMemoryInvoiceStore(),
		Logger:        lib.Logger(""),
		Chain:         chainClient,
		Signer:        deviceSigner,
		Issuer:        wallet.NewIssuer(&chaincfg.TestNet3Params, deviceSigner),
		InvoicePubSub: NewPubsub(),
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc := testService(&fakeChainClient{}, &fakeSigner{})
	ctx := context.Background()

	_, err := svc.CreateInvoice(ctx, 0, "zero amount", 3600)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.CreateInvoice(ctx, -50, "negative amount", 3600)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.CreateInvoice(ctx, 1000, "zero expiry", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateInvoiceUniqueIdsAndAddresses(t *testing.T) {
	svc := testService(&fakeChainClient{}, &fakeSigner{})
	ctx := context.Background()

	seenIds := map[string]bool{}
	seenAddrs := map[string]bool{}
	for i := 0; i < 20; i++ {
		invoice, err := svc.CreateInvoice(ctx, 50000, "test payment", 3600)
		assert.NoError(t, err)
		assert.Equal(t, common.InvoiceStatusPending, invoice.Status)
		assert.True(t, invoice.ExpiresAt.After(invoice.CreatedAt))
		assert.False(t, seenIds[invoice.ID])
		assert.False(t, seenAddrs[invoice.Address])
		seenIds[invoice.ID] = true
		seenAddrs[invoice.Address] = true
	}
}

func TestDecideTransition(t *testing.T) {
	now := time.Now()
	pending := &models.Invoice{Status: common.InvoiceStatusPending, ExpiresAt: now.Add(time.Hour)}
	expired := &models.Invoice{Status: common.InvoiceStatusPending, ExpiresAt: now.Add(-time.Hour)}
	paid := &models.Invoice{Status: common.InvoiceStatusPaid, ExpiresAt: now.Add(-time.Hour)}

	assert.Equal(t, common.InvoiceStatusPaid, decideTransition(pending, true, now))
	assert.Equal(t, "", decideTransition(pending, false, now))
	assert.Equal(t, common.InvoiceStatusExpired, decideTransition(expired, false, now))
	// payment found in the same pass as the expiry check wins
	assert.Equal(t, common.InvoiceStatusPaid, decideTransition(expired, true, now))
	// terminal states never move again
	assert.Equal(t, "", decideTransition(paid, true, now))
	assert.Equal(t, "", decideTransition(paid, false, now))
}

func TestCheckInvoiceLifecycle(t *testing.T) {
	chainClient := &fakeChainClient{}
	svc := testService(chainClient, &fakeSigner{})
	ctx := context.Background()

	invoice, err := svc.CreateInvoice(ctx, 50000, "test payment", 3600)
	assert.NoError(t, err)

	// no payment, not expired: stays pending
	checked, err := svc.CheckInvoice(ctx, invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPending, checked.Status)

	// payment observed: settles
	chainClient.hasPayment = true
	checked, err = svc.CheckInvoice(ctx, invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPaid, checked.Status)

	// terminal state is idempotent under repeated checks
	chainClient.hasPayment = false
	checked, err = svc.CheckInvoice(ctx, invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPaid, checked.Status)
}

func TestCheckInvoiceExpiry(t *testing.T) {
	chainClient := &fakeChainClient{}
	svc := testService(chainClient, &fakeSigner{})
	ctx := context.Background()

	now := time.Now()
	invoice := &models.Invoice{
		ID:        "expiring",
		Address:   "tb1qexpiring",
		Amount:    50000,
		Status:    common.InvoiceStatusPending,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	assert.NoError(t, svc.Store.Create(ctx, invoice))

	checked, err := svc.CheckInvoice(ctx, "expiring")
	assert.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusExpired, checked.Status)

	// a payment discovered in a later call does not resurrect the invoice
	chainClient.hasPayment = true
	checked, err = svc.CheckInvoice(ctx, "expiring")
	assert.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusExpired, checked.Status)
}

func TestCheckInvoicePaymentBeatsExpiry(t *testing.T) {
	chainClient := &fakeChainClient{hasPayment: true}
	svc := testService(chainClient, &fakeSigner{})
	ctx := context.Background()

	now := time.Now()
	invoice := &models.Invoice{
		ID:        "late",
		Address:   "tb1qlate",
		Amount:    50000,
		Status:    common.InvoiceStatusPending,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	assert.NoError(t, svc.Store.Create(ctx, invoice))

	checked, err := svc.CheckInvoice(ctx, "late")
	assert.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPaid, checked.Status)
}

func TestCheckInvoiceChainErrorLeavesInvoiceUntouched(t *testing.T) {
	chainClient := &fakeChainClient{queryErr: errors.New("provider down")}
	svc := testService(chainClient, &fakeSigner{})
	ctx := context.Background()

	invoice, err := svc.CreateInvoice(ctx, 50000, "test payment", 3600)
	assert.NoError(t, err)

	_, err = svc.CheckInvoice(ctx, invoice.ID)
	assert.Error(t, err)

	after, err := svc.Store.Get(ctx, invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, *invoice, *after)
}

func TestCheckInvoiceNotFound(t *testing.T) {
	svc := testService(&fakeChainClient{}, &fakeSigner{})

	_, err := svc.CheckInvoice(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSignAndBroadcast(t *testing.T) {
	chainClient := &fakeChainClient{broadcastTxid: "txid123"}
	deviceSigner := &fakeSigner{signed: &signer.SignedTx{TxID: "txid123", RawTx: []byte{0x01}}}
	svc := testService(chainClient, deviceSigner)

	txid, err := svc.SignAndBroadcast(context.Background(), &signer.UnsignedTxRequest{})
	assert.NoError(t, err)
	assert.Equal(t, "txid123", txid)
	assert.Equal(t, 1, chainClient.broadcasts)
}

func TestSignAndBroadcastSignerErrorShortCircuits(t *testing.T) {
	chainClient := &fakeChainClient{broadcastTxid: "txid123"}
	deviceSigner := &fakeSigner{signErr: signer.ErrSigningRefused}
	svc := testService(chainClient, deviceSigner)

	_, err := svc.SignAndBroadcast(context.Background(), &signer.UnsignedTxRequest{})
	assert.ErrorIs(t, err, signer.ErrSigningRefused)
	// nothing was broadcast
	assert.Equal(t, 0, chainClient.broadcasts)
}

func TestSignAndBroadcastBroadcastError(t *testing.T) {
	chainClient := &fakeChainClient{broadcastErr: errors.New("rejected")}
	deviceSigner := &fakeSigner{signed: &signer.SignedTx{TxID: "txid123", RawTx: []byte{0x01}}}
	svc := testService(chainClient, deviceSigner)

	_, err := svc.SignAndBroadcast(context.Background(), &signer.UnsignedTxRequest{})
	assert.Error(t, err)
}

func TestGenerateToken(t *testing.T) {
	svc := testService(&fakeChainClient{}, &fakeSigner{})
	hash, err := bcrypt.GenerateFromPassword([]byte("secure_password"), bcrypt.MinCost)
	assert.NoError(t, err)
	svc.Config.OperatorPasswordHash = string(hash)

	token, err := svc.GenerateToken("admin", "secure_password")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = svc.GenerateToken("admin", "wrong")
	assert.ErrorIs(t, err, ErrBadAuth)
	_, err = svc.GenerateToken("stranger", "secure_password")
	assert.ErrorIs(t, err, ErrBadAuth)
}
