package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrUnavailable wraps provider failures: network errors, non-2xx
	// responses and malformed bodies. The caller may retry; no state was
	// touched.
	ErrUnavailable = errors.New("chain provider unavailable")
	// ErrBroadcastRejected means the network refused the transaction for a
	// reason other than already knowing it (e.g. a double spend). Not
	// retriable without re-signing.
	ErrBroadcastRejected = errors.New("transaction rejected by the network")
)

// Client is the chain-facing contract: settlement detection for receiving
// addresses and broadcast of signed transactions.
type Client interface {
	AddressHasPayment(ctx context.Context, address string) (bool, error)
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}

type addressTx struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
	Vout []struct {
		ScriptpubkeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
}

// EsploraClient talks to an esplora-compatible block explorer API
// (mempool.space, blockstream.info or a self-hosted esplora).
type EsploraClient struct {
	httpClient       *http.Client
	baseUrl          string
	minConfirmations int64
}

func NewEsploraClient(baseUrl string, timeout time.Duration, minConfirmations int64) *EsploraClient {
	return &EsploraClient{
		httpClient:       &http.Client{Timeout: timeout},
		baseUrl:          strings.TrimRight(baseUrl, "/"),
		minConfirmations: minConfirmations,
	}
}

// AddressHasPayment returns true if any transaction pays the address with
// at least the configured number of confirmations (zero accepts mempool
// transactions). Provider errors never mutate anything and are safe to
// retry indefinitely.
func (client *EsploraClient) AddressHasPayment(ctx context.Context, address string) (bool, error) {
	body, err := client.get(ctx, "/address/"+address+"/txs")
	if err != nil {
		return false, err
	}
	var txs []addressTx
	if err = json.Unmarshal(body, &txs); err != nil {
		return false, fmt.Errorf("%w: decoding address transactions: %s", ErrUnavailable, err.Error())
	}

	var tipHeight int64
	if client.minConfirmations > 0 {
		tipHeight, err = client.tip(ctx)
		if err != nil {
			return false, err
		}
	}

	for _, tx := range txs {
		if !paysAddress(tx, address) {
			continue
		}
		if client.minConfirmations == 0 {
			return true, nil
		}
		if tx.Status.Confirmed && tipHeight-tx.Status.BlockHeight+1 >= client.minConfirmations {
			return true, nil
		}
	}
	return false, nil
}

// Broadcast submits the raw transaction and returns its txid. The txid is
// derived locally from the bytes, so a provider that already knows the
// transaction still yields a success with the canonical id.
func (client *EsploraClient) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	txid, err := TxID(rawTx)
	if err != nil {
		return "", err
	}

	hexTx := fmt.Sprintf("%x", rawTx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseUrl+"/tx", bytes.NewBufferString(hexTx))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return txid, nil
	}
	// resubmitting a transaction the network already accepted is a success
	if alreadyKnown(string(body)) {
		return txid, nil
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}
	return "", fmt.Errorf("%w: %s", ErrBroadcastRejected, string(body))
}

// TxID derives the canonical transaction id from raw transaction bytes.
func TxID(rawTx []byte) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return "", fmt.Errorf("invalid raw transaction: %w", err)
	}
	return tx.TxHash().String(), nil
}

func (client *EsploraClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseUrl+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", ErrUnavailable, resp.StatusCode, path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	return body, nil
}

func (client *EsploraClient) tip(ctx context.Context) (int64, error) {
	body, err := client.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: decoding tip height: %s", ErrUnavailable, err.Error())
	}
	return height, nil
}

func paysAddress(tx addressTx, address string) bool {
	for _, out := range tx.Vout {
		if out.ScriptpubkeyAddress == address && out.Value > 0 {
			return true
		}
	}
	return false
}

func alreadyKnown(body string) bool {
	msg := strings.ToLower(body)
	return strings.Contains(msg, "already in block chain") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "txn-already-in-mempool")
}
