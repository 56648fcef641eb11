package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcpayd/btcpayd/common"
	"github.com/btcpayd/btcpayd/lib"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type clientConfig struct {
	ServerUrl    string `envconfig:"SERVER_URL" default:"http://localhost:8080"`
	Amount       int64  `envconfig:"AMOUNT" default:"50000"`
	Description  string `envconfig:"DESCRIPTION" default:"demo payment"`
	Expiry       int64  `envconfig:"EXPIRY" default:"3600"` // in seconds
	PollInterval int    `envconfig:"POLL_INTERVAL" default:"5"`
}

type invoiceResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// Demo client: creates an invoice and polls the check endpoint until the
// invoice settles or expires. Pay the printed address to watch it settle.
func main() {

	c := &clientConfig{}
	godotenv.Load(".env")
	logger := lib.Logger("")
	err := envconfig.Process("", c)
	if err != nil {
		logger.Fatalf("Error loading environment variables: %v", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"amount":      c.Amount,
		"description": c.Description,
		"expiry":      c.Expiry,
	})
	if err != nil {
		logger.Fatal(err)
	}
	resp, err := http.Post(c.ServerUrl+"/v2/invoices", "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Fatalf("Error creating invoice: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Fatalf("Invoice creation returned status %d", resp.StatusCode)
	}
	invoice := invoiceResponse{}
	if err = json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		logger.Fatal(err)
	}

	logger.Infof("Created invoice %s for %d sats", invoice.ID, invoice.Amount)
	logger.Infof("Pay to address: %s", invoice.Address)
	qrUrl := fmt.Sprintf("%s/v2/invoices/%s/qr", c.ServerUrl, invoice.ID)
	logger.Infof("QR code: %s", qrUrl)

	checkUrl := fmt.Sprintf("%s/v2/invoices/%s/check", c.ServerUrl, invoice.ID)
	for {
		time.Sleep(time.Duration(c.PollInterval) * time.Second)
		resp, err := http.Get(checkUrl)
		if err != nil {
			logger.Errorf("Error checking invoice: %v", err)
			continue
		}
		err = json.NewDecoder(resp.Body).Decode(&invoice)
		resp.Body.Close()
		if err != nil {
			logger.Errorf("Error decoding check response: %v", err)
			continue
		}
		logger.Infof("Invoice %s status: %s", invoice.ID, invoice.Status)
		switch invoice.Status {
		case common.InvoiceStatusPaid:
			logger.Info("Invoice settled. Bye.")
			return
		case common.InvoiceStatusExpired:
			logger.Info("Invoice expired without payment. Bye.")
			return
		}
	}
}
