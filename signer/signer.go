package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrDeviceNotFound = errors.New("no signing device found")
	ErrNotConnected   = errors.New("signing device not connected")
	// ErrDeviceBusy : another sign call holds the device session. Retriable.
	ErrDeviceBusy = errors.New("signing device busy")
	// ErrSigningRefused : the user declined on the device or the device
	// timed out waiting for confirmation. Not retriable without a new
	// request.
	ErrSigningRefused = errors.New("signing refused by device")
	// ErrTxRejected : the device's own policy rejected the transaction
	// shape (e.g. outputs exceed inputs).
	ErrTxRejected = errors.New("transaction rejected by device policy")
	// ErrIntegrityViolation : the signed transaction does not match the
	// request. Always fatal, never broadcast, never retried.
	ErrIntegrityViolation = errors.New("signed transaction does not match request")
	// ErrBridgeUnavailable : transport failure talking to the bridge
	// daemon. Retriable after reconnecting.
	ErrBridgeUnavailable = errors.New("signer bridge unavailable")
	ErrInvalidRequest    = errors.New("invalid transaction request")
)

type UnsignedTxInput struct {
	TxID string `json:"txid" validate:"required,hexadecimal,len=64"`
	Vout uint32 `json:"vout"`
}

type UnsignedTxOutput struct {
	Address string `json:"address" validate:"required"`
	Amount  int64  `json:"amount" validate:"gt=0"`
}

// UnsignedTxRequest is the public template handed to the signing device:
// previous outputs to spend and the outputs to create. It is built per sign
// request and never persisted.
type UnsignedTxRequest struct {
	Inputs  []UnsignedTxInput  `json:"inputs" validate:"required,min=1,dive"`
	Outputs []UnsignedTxOutput `json:"outputs" validate:"required,min=1,dive"`
}

// SignedTx is treated as opaque bytes by every other component.
type SignedTx struct {
	TxID  string
	RawTx []byte
}

// Signer drives an external, physically isolated key holder. No private key
// material ever crosses into this process: only the unsigned template goes
// out and the signed result comes back.
type Signer interface {
	Connect(ctx context.Context) error
	Sign(ctx context.Context, req *UnsignedTxRequest) (*SignedTx, error)
	// StoreKey hands a freshly generated private key (WIF) over to the
	// bridge's key custody. Used by the address issuer at invoice creation.
	StoreKey(ctx context.Context, wif string) error
}

const (
	stateDisconnected = iota
	stateConnected
	stateSigning
)

// BridgeClient talks JSON over HTTP to a local hardware-signing bridge
// daemon (HWI/trezord style). The bridge owns the USB transport and the
// vendor protocol; this client only exchanges public transaction data.
type BridgeClient struct {
	httpClient  *http.Client
	baseUrl     string
	params      *chaincfg.Params
	signTimeout time.Duration

	mu       sync.Mutex
	state    int
	deviceId string
}

func NewBridgeClient(baseUrl string, params *chaincfg.Params, signTimeout time.Duration) *BridgeClient {
	return &BridgeClient{
		httpClient:  &http.Client{},
		baseUrl:     strings.TrimRight(baseUrl, "/"),
		params:      params,
		signTimeout: signTimeout,
	}
}

type enumeratedDevice struct {
	DeviceId string `json:"device_id"`
	Model    string `json:"model"`
}

func (client *BridgeClient) Connect(ctx context.Context) error {
	client.mu.Lock()
	if client.state == stateSigning {
		client.mu.Unlock()
		return ErrDeviceBusy
	}
	client.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseUrl+"/enumerate", nil)
	if err != nil {
		return err
	}
	resp, err := client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBridgeUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: enumerate returned status %d", ErrBridgeUnavailable, resp.StatusCode)
	}
	var devices []enumeratedDevice
	if err = json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return fmt.Errorf("%w: %s", ErrBridgeUnavailable, err.Error())
	}
	if len(devices) == 0 {
		return ErrDeviceNotFound
	}

	client.mu.Lock()
	client.state = stateConnected
	client.deviceId = devices[0].DeviceId
	client.mu.Unlock()
	return nil
}

type signRequestBody struct {
	DeviceId string `json:"device_id"`
	RawTx    string `json:"raw_tx"`
}

type signResponseBody struct {
	Status string `json:"status"`
	RawTx  string `json:"raw_tx"`
	Reason string `json:"reason"`
}

// Sign builds the unsigned transaction from the request, submits it to the
// device and waits for on-device confirmation, bounded by the configured
// sign timeout. A lost or never-established session reconnects on demand,
// so a bridge that was down at startup or dropped mid-flight only costs
// the failed attempts. The device session is single-owner: a concurrent
// call gets ErrDeviceBusy. Caller cancellation leaves the session usable.
func (client *BridgeClient) Sign(ctx context.Context, txReq *UnsignedTxRequest) (*SignedTx, error) {
	template, err := buildTemplate(txReq, client.params)
	if err != nil {
		return nil, err
	}

	client.mu.Lock()
	if client.state == stateDisconnected {
		client.mu.Unlock()
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		client.mu.Lock()
	}
	switch client.state {
	case stateDisconnected:
		client.mu.Unlock()
		return nil, ErrNotConnected
	case stateSigning:
		client.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	client.state = stateSigning
	deviceId := client.deviceId
	client.mu.Unlock()

	// return a non-corrupted session whatever happens below; a transport
	// loss flips the state to disconnected before we get here
	defer func() {
		client.mu.Lock()
		if client.state == stateSigning {
			client.state = stateConnected
		}
		client.mu.Unlock()
	}()

	var templateBuf bytes.Buffer
	if err = template.Serialize(&templateBuf); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(signRequestBody{
		DeviceId: deviceId,
		RawTx:    hex.EncodeToString(templateBuf.Bytes()),
	})
	if err != nil {
		return nil, err
	}

	signCtx, cancel := context.WithTimeout(ctx, client.signTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(signCtx, http.MethodPost, client.baseUrl+"/sign", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.httpClient.Do(req)
	if err != nil {
		if signCtx.Err() != nil {
			// canceled or timed out on our side; the session stays connected
			return nil, fmt.Errorf("%w: confirmation timeout", ErrSigningRefused)
		}
		client.disconnect()
		return nil, fmt.Errorf("%w: %s", ErrBridgeUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		client.disconnect()
		return nil, fmt.Errorf("%w: sign returned status %d", ErrBridgeUnavailable, resp.StatusCode)
	}
	var body signResponseBody
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBridgeUnavailable, err.Error())
	}

	switch body.Status {
	case "signed":
	case "refused":
		return nil, ErrSigningRefused
	case "rejected":
		return nil, fmt.Errorf("%w: %s", ErrTxRejected, body.Reason)
	default:
		return nil, fmt.Errorf("%w: unexpected sign status %q", ErrBridgeUnavailable, body.Status)
	}

	rawTx, err := hex.DecodeString(body.RawTx)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable signed transaction", ErrIntegrityViolation)
	}
	signedTx := wire.NewMsgTx(wire.TxVersion)
	if err = signedTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("%w: undecodable signed transaction", ErrIntegrityViolation)
	}
	if err = verifyShape(template, signedTx); err != nil {
		return nil, err
	}

	return &SignedTx{
		TxID:  signedTx.TxHash().String(),
		RawTx: rawTx,
	}, nil
}

func (client *BridgeClient) StoreKey(ctx context.Context, wif string) error {
	payload, err := json.Marshal(map[string]string{"wif": wif})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseUrl+"/keys", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBridgeUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: key hand-off returned status %d", ErrBridgeUnavailable, resp.StatusCode)
	}
	return nil
}

func (client *BridgeClient) disconnect() {
	client.mu.Lock()
	client.state = stateDisconnected
	client.deviceId = ""
	client.mu.Unlock()
}

// buildTemplate assembles the unsigned wire transaction from the request.
func buildTemplate(txReq *UnsignedTxRequest, params *chaincfg.Params) (*wire.MsgTx, error) {
	if len(txReq.Inputs) == 0 || len(txReq.Outputs) == 0 {
		return nil, fmt.Errorf("%w: at least one input and one output required", ErrInvalidRequest)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range txReq.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: input txid %q: %s", ErrInvalidRequest, in.TxID, err.Error())
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}
	for _, out := range txReq.Outputs {
		if out.Amount <= 0 {
			return nil, fmt.Errorf("%w: output amount must be positive", ErrInvalidRequest)
		}
		addr, err := btcutil.DecodeAddress(out.Address, params)
		if err != nil {
			return nil, fmt.Errorf("%w: output address %q: %s", ErrInvalidRequest, out.Address, err.Error())
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: output address %q: %s", ErrInvalidRequest, out.Address, err.Error())
		}
		tx.AddTxOut(wire.NewTxOut(out.Amount, pkScript))
	}
	return tx, nil
}

// verifyShape checks that the device signed exactly what was requested:
// same previous outpoints in the same order, same outputs with the same
// values and scripts. A bridge or device that silently alters the
// transaction is an integrity violation, never accepted.
func verifyShape(template, signed *wire.MsgTx) error {
	if len(signed.TxIn) != len(template.TxIn) {
		return fmt.Errorf("%w: input count changed", ErrIntegrityViolation)
	}
	for i, in := range template.TxIn {
		if signed.TxIn[i].PreviousOutPoint != in.PreviousOutPoint {
			return fmt.Errorf("%w: input %d outpoint changed", ErrIntegrityViolation, i)
		}
	}
	if len(signed.TxOut) != len(template.TxOut) {
		return fmt.Errorf("%w: output count changed", ErrIntegrityViolation)
	}
	for i, out := range template.TxOut {
		if signed.TxOut[i].Value != out.Value || !bytes.Equal(signed.TxOut[i].PkScript, out.PkScript) {
			return fmt.Errorf("%w: output %d changed", ErrIntegrityViolation, i)
		}
	}
	return nil
}
