package service

import (
	"github.com/btcpayd/btcpayd/chain"
	"github.com/btcpayd/btcpayd/db"
	"github.com/btcpayd/btcpayd/rabbitmq"
	"github.com/btcpayd/btcpayd/signer"
	"github.com/btcpayd/btcpayd/wallet"
	"github.com/labstack/gommon/random"
	"github.com/ziflex/lecho/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/btcpayd/btcpayd/lib/tokens"
)

const alphaNumBytes = random.Alphanumeric

// PayService is the composition root of the invoice lifecycle: it wires the
// address issuer, invoice store, chain client, signing bridge and the
// notification paths together.
type PayService struct {
	Config         *Config
	Store          db.InvoiceStore
	Logger         *lecho.Logger
	Chain          chain.Client
	Signer         signer.Signer
	Issuer         *wallet.Issuer
	InvoicePubSub  *Pubsub
	RabbitMQClient rabbitmq.Client
}

// GenerateToken authenticates the configured operator and mints an access
// token for the signing endpoints.
func (svc *PayService) GenerateToken(login, password string) (accessToken string, err error) {
	if login == "" || password == "" {
		return "", ErrBadAuth
	}
	if login != svc.Config.OperatorLogin {
		return "", ErrBadAuth
	}
	if bcrypt.CompareHashAndPassword([]byte(svc.Config.OperatorPasswordHash), []byte(password)) != nil {
		return "", ErrBadAuth
	}
	return tokens.GenerateAccessToken(svc.Config.JWTSecret, svc.Config.JWTAccessTokenExpiry, login)
}

func makeInvoiceId() string {
	return random.String(25, alphaNumBytes)
}
