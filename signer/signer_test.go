package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
)

const (
	testPrevTxID   = "aa9ad8b5c5e46971b144ecb72b0b0b18bc4bceee1686aa55f05a1c8d3f91fb57"
	testTargetAddr = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
)

func testRequest() *UnsignedTxRequest {
	return &UnsignedTxRequest{
		Inputs:  []UnsignedTxInput{{TxID: testPrevTxID, Vout: 1}},
		Outputs: []UnsignedTxOutput{{Address: testTargetAddr, Amount: 49000}},
	}
}

// signingBridge fakes the bridge daemon: it signs by attaching a witness to
// the submitted template, which is what a real device does to the shape.
type signingBridge struct {
	mutate func(tx *wire.MsgTx)
	status string
	reason string
	delay  time.Duration
}

func (b *signingBridge) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/enumerate":
			fmt.Fprint(w, `[{"device_id": "trezor-1", "model": "Trezor Model T"}]`)
		case "/keys":
			w.WriteHeader(http.StatusCreated)
		case "/sign":
			if b.delay > 0 {
				time.Sleep(b.delay)
			}
			var body signRequestBody
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "trezor-1", body.DeviceId)
			if b.status != "" && b.status != "signed" {
				json.NewEncoder(w).Encode(signResponseBody{Status: b.status, Reason: b.reason})
				return
			}
			rawTx, err := hex.DecodeString(body.RawTx)
			assert.NoError(t, err)
			tx := wire.NewMsgTx(wire.TxVersion)
			assert.NoError(t, tx.Deserialize(bytes.NewReader(rawTx)))
			tx.TxIn[0].Witness = wire.TxWitness{make([]byte, 72), make([]byte, 33)}
			if b.mutate != nil {
				b.mutate(tx)
			}
			var buf bytes.Buffer
			assert.NoError(t, tx.Serialize(&buf))
			json.NewEncoder(w).Encode(signResponseBody{Status: "signed", RawTx: hex.EncodeToString(buf.Bytes())})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func connectedClient(t *testing.T, bridge *signingBridge, signTimeout time.Duration) (*BridgeClient, func()) {
	server := httptest.NewServer(bridge.handler(t))
	client := NewBridgeClient(server.URL, &chaincfg.TestNet3Params, signTimeout)
	assert.NoError(t, client.Connect(context.Background()))
	return client, server.Close
}

func TestSign(t *testing.T) {
	client, done := connectedClient(t, &signingBridge{}, 5*time.Second)
	defer done()

	signed, err := client.Sign(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.NotEmpty(t, signed.TxID)
	assert.NotEmpty(t, signed.RawTx)
}

func TestSignConnectsOnDemand(t *testing.T) {
	server := httptest.NewServer((&signingBridge{}).handler(t))
	defer server.Close()
	client := NewBridgeClient(server.URL, &chaincfg.TestNet3Params, 5*time.Second)

	// no prior Connect call; the session is established on first use
	signed, err := client.Sign(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.NotEmpty(t, signed.TxID)
}

func TestSignWithBridgeDown(t *testing.T) {
	server := httptest.NewServer((&signingBridge{}).handler(t))
	server.Close()
	client := NewBridgeClient(server.URL, &chaincfg.TestNet3Params, 5*time.Second)

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrBridgeUnavailable)
}

func TestSignRecoversAfterBridgeComesBack(t *testing.T) {
	bridge := &signingBridge{}
	down := httptest.NewServer(bridge.handler(t))
	down.Close()
	client := NewBridgeClient(down.URL, &chaincfg.TestNet3Params, 5*time.Second)

	// startup connect against a down bridge fails and leaves no session
	assert.ErrorIs(t, client.Connect(context.Background()), ErrBridgeUnavailable)
	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrBridgeUnavailable)

	// once the bridge is reachable the next sign call reconnects itself
	up := httptest.NewServer(bridge.handler(t))
	defer up.Close()
	client.baseUrl = up.URL

	signed, err := client.Sign(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.NotEmpty(t, signed.TxID)
}

func TestSignRecoversAfterTransportLoss(t *testing.T) {
	bridge := &signingBridge{}
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sign" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		bridge.handler(t)(w, r)
	}))
	client := NewBridgeClient(flaky.URL, &chaincfg.TestNet3Params, 5*time.Second)
	assert.NoError(t, client.Connect(context.Background()))

	// a bridge failure mid-sign drops the session
	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrBridgeUnavailable)
	flaky.Close()

	healthy := httptest.NewServer(bridge.handler(t))
	defer healthy.Close()
	client.baseUrl = healthy.URL

	signed, err := client.Sign(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.NotEmpty(t, signed.TxID)
}

func TestConnectWithoutDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()
	client := NewBridgeClient(server.URL, &chaincfg.TestNet3Params, 5*time.Second)

	assert.ErrorIs(t, client.Connect(context.Background()), ErrDeviceNotFound)
}

func TestSignRefused(t *testing.T) {
	client, done := connectedClient(t, &signingBridge{status: "refused"}, 5*time.Second)
	defer done()

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrSigningRefused)
}

func TestSignPolicyRejected(t *testing.T) {
	client, done := connectedClient(t, &signingBridge{status: "rejected", reason: "outputs exceed inputs"}, 5*time.Second)
	defer done()

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrTxRejected)
	assert.Contains(t, err.Error(), "outputs exceed inputs")
}

func TestSignIntegrityViolationOnChangedOutput(t *testing.T) {
	bridge := &signingBridge{mutate: func(tx *wire.MsgTx) {
		tx.TxOut[0].Value = 1
	}}
	client, done := connectedClient(t, bridge, 5*time.Second)
	defer done()

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestSignIntegrityViolationOnAddedOutput(t *testing.T) {
	bridge := &signingBridge{mutate: func(tx *wire.MsgTx) {
		tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00, 0x14}))
	}}
	client, done := connectedClient(t, bridge, 5*time.Second)
	defer done()

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestConcurrentSignGetsDeviceBusy(t *testing.T) {
	bridge := &signingBridge{delay: 300 * time.Millisecond}
	client, done := connectedClient(t, bridge, 5*time.Second)
	defer done()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := client.Sign(context.Background(), testRequest())
		assert.NoError(t, err)
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrDeviceBusy)
	wg.Wait()
}

func TestSignTimeoutLeavesSessionUsable(t *testing.T) {
	bridge := &signingBridge{delay: 500 * time.Millisecond}
	client, done := connectedClient(t, bridge, 50*time.Millisecond)
	defer done()

	_, err := client.Sign(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrSigningRefused)

	// the session must still be connected for the next attempt
	bridge.delay = 0
	client.signTimeout = 5 * time.Second
	_, err = client.Sign(context.Background(), testRequest())
	assert.NoError(t, err)
}

func TestSignInvalidRequest(t *testing.T) {
	client, done := connectedClient(t, &signingBridge{}, 5*time.Second)
	defer done()

	_, err := client.Sign(context.Background(), &UnsignedTxRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = client.Sign(context.Background(), &UnsignedTxRequest{
		Inputs:  []UnsignedTxInput{{TxID: "nothex", Vout: 0}},
		Outputs: []UnsignedTxOutput{{Address: testTargetAddr, Amount: 1000}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStoreKey(t *testing.T) {
	client, done := connectedClient(t, &signingBridge{}, 5*time.Second)
	defer done()

	assert.NoError(t, client.StoreKey(context.Background(), "cTestWifKey"))
}
