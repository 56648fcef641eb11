package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrKeyGeneration : the randomness source could not be sampled. Fatal to
// the creation request; no partial invoice is persisted.
var ErrKeyGeneration = errors.New("could not generate receiving key")

// KeyCustodian takes ownership of a freshly generated private key. The
// signer bridge implements this; the issuer never retains key material
// after the hand-off.
type KeyCustodian interface {
	StoreKey(ctx context.Context, wif string) error
}

// Issuer derives a fresh, never reused p2wpkh receiving address per call.
type Issuer struct {
	params    *chaincfg.Params
	custodian KeyCustodian
}

func NewIssuer(params *chaincfg.Params, custodian KeyCustodian) *Issuer {
	return &Issuer{params: params, custodian: custodian}
}

// Issue generates an independent keypair, hands the private key to the
// custodian and returns only the address. The local key copy is zeroed
// before returning.
func (issuer *Issuer) Issue(ctx context.Context) (string, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrKeyGeneration, err.Error())
	}
	defer privKey.Zero()

	wif, err := btcutil.NewWIF(privKey, issuer.params, true)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrKeyGeneration, err.Error())
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(privKey.PubKey().SerializeCompressed()), issuer.params)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrKeyGeneration, err.Error())
	}

	if err = issuer.custodian.StoreKey(ctx, wif.String()); err != nil {
		return "", fmt.Errorf("key hand-off failed: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// NetworkParams maps a configured network name to its chain parameters.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}
